// Package cli wires command-line flags to a mounted convofs filesystem:
// a base config directory discovered from the first -c flag, any number
// of further filter subdirectories, and an optional HTTP status server
// started once the mount is live.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/convofs/convofs/internal/fsfacade"
	"github.com/convofs/convofs/internal/status"
)

type options struct {
	configDirs   []string
	port         int
	refreshSecs  int
	gapless      bool
	debug        bool
	foreground   bool
	mountOpts    []string
	fuseDebug    bool
}

// NewRootCommand builds the convofs cobra command: `convofs [options]
// <original-dir> <mount-point-dir>`.
func NewRootCommand() *cobra.Command {
	opts := &options{refreshSecs: 10, port: -1}

	cmd := &cobra.Command{
		Use:   "convofs [options] <original-dir> <mount-point-dir>",
		Short: "A read-only filesystem that convolves audio files on-the-fly",
		Long: `convofs mirrors a directory of FLAC, WAV and OGG files and serves
each one re-encoded through a configurable FIR filter, computed on demand
as a player reads it. Pick the filter via -c, or switch it later on the
HTTP status page with -p.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&opts.configDirs, "config-dir", "c", nil,
		"filter config subdirectory, resolved under a common base (repeatable)")
	flags.IntVarP(&opts.port, "port", "p", -1, "HTTP status server port")
	flags.IntVarP(&opts.refreshSecs, "refresh", "r", 10,
		"seconds between status page auto-refresh; -1 disables it")
	flags.BoolVarP(&opts.gapless, "gapless", "g", false,
		"gaplessly hand a processor to the alphabetically next file")
	flags.BoolVarP(&opts.debug, "debug", "D", false,
		"verbose convofs debug logging and extra status page detail")
	flags.BoolVarP(&opts.foreground, "foreground", "f", false,
		"run in the foreground (convofs never daemonizes; accepted for familiarity)")
	flags.StringArrayVarP(&opts.mountOpts, "mount-option", "o", nil,
		"generic FUSE mount option, passed through verbatim (repeatable)")
	flags.BoolVarP(&opts.fuseDebug, "fuse-debug", "d", false,
		"high-volume FUSE debug log; implies -f")

	return cmd
}

func run(underlyingDir, mountPoint string, opts *options) error {
	if opts.fuseDebug {
		opts.foreground = true
	}
	setUpLogging(opts.debug)

	baseDir, subdirs, initial, err := splitConfigDirs(opts.configDirs)
	if err != nil {
		return err
	}
	if len(subdirs) == 0 {
		slog.Warn("cli: no filter configuration directories given; files will be passed through verbatim")
	}

	facade, err := fsfacade.New(fsfacade.Config{
		UnderlyingDir:      underlyingDir,
		BaseConfigDir:      baseDir,
		Subdirs:            subdirs,
		Initial:            initial,
		GaplessProcessing:  opts.gapless,
		FileOversizeFactor: 1.05,
	})
	if err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	defer facade.Close()

	var statusSrv *status.Server
	if opts.port > 0 {
		statusSrv = status.New(facade, opts.refreshSecs, opts.debug)
		facade.SetCacheObserver(statusSrv)
		slog.Info("cli: HTTP status server starting", "port", opts.port, "refresh", opts.refreshSecs)
	} else if len(subdirs) > 1 {
		slog.Warn("cli: multiple filter configurations given but no HTTP status port; add -p to switch between them")
	}

	server, err := fsfacade.Mount(facade, mountPoint, opts.fuseDebug, opts.mountOpts)
	if err != nil {
		return fmt.Errorf("cli: mount %s: %w", mountPoint, err)
	}
	slog.Info("cli: mounted", "source", underlyingDir, "mountpoint", mountPoint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		server.Serve()
		return nil
	})

	if statusSrv != nil {
		g.Go(func() error {
			if err := statusSrv.Start(opts.port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("cli: status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("cli: shutting down")
		if statusSrv != nil {
			if err := statusSrv.Shutdown(context.Background()); err != nil {
				slog.Warn("cli: status server shutdown failed", "err", err)
			}
		}
		if err := server.Unmount(); err != nil {
			slog.Warn("cli: unmount failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}

func setUpLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// splitConfigDirs derives a single base config directory and the list of
// available filter subdirectory names from the repeated -c flag values.
// The first value's parent directory becomes the base; every value must
// share that same parent, so each -c resolves to a subdirectory under
// one common base.
func splitConfigDirs(raw []string) (base string, subdirs []string, initial string, err error) {
	if len(raw) == 0 {
		return "", nil, "", nil
	}
	for i, dir := range raw {
		abs, absErr := filepath.Abs(dir)
		if absErr != nil {
			return "", nil, "", fmt.Errorf("cli: invalid config dir %q: %w", dir, absErr)
		}
		parent := filepath.Dir(abs)
		name := filepath.Base(abs)
		if i == 0 {
			base = parent
			initial = name
		} else if parent != base {
			return "", nil, "", fmt.Errorf(
				"cli: -c %q is not under the same base directory as %q (%s vs %s)",
				dir, raw[0], parent, base)
		}
		subdirs = append(subdirs, name)
	}
	return base, subdirs, initial, nil
}
