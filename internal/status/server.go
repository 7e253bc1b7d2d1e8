// Package status serves an HTTP page showing every currently open (and
// recently retired) file handler's conversion progress, and lets a
// client switch the active filter configuration or toggle debug
// logging without touching the mount itself.
package status

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/convofs/convofs/internal/handler"
)

// maxRetired bounds the rolling history of handlers that have been
// evicted from the cache, so a burst of file opens doesn't grow this
// list without limit.
const maxRetired = 20

// kProgressWidth is the pixel width of the progress bar drawn for each
// file, matched against the inline style below.
const kProgressWidth = 300

// Facade is the slice of fsfacade.Facade the status page needs. Kept as
// an interface here, rather than importing fsfacade directly, so
// fsfacade can in turn depend on this package for wiring without a
// cycle.
type Facade interface {
	CacheStats() []handler.Stats
	AvailableConfigDirs() []string
	CurrentConfigDir() string
	SwitchByIndex(index int) error
	TotalOpenings() int64
	TotalReopens() int64
	UnderlyingDir() string
}

// Server is an HTTP front-end for a Facade, implementing
// handler.CacheObserver so it keeps a short history of recently closed
// handlers even after the cache itself has forgotten them.
type Server struct {
	facade      Facade
	refreshSecs int
	debugUI     bool

	mu               sync.Mutex
	retired          []handler.Stats
	expungedRetired  int
	secondsFiltered  float64
	secondsMusicSeen float64

	echo *echo.Echo
}

// New builds a Server bound to facade. Call Start to actually listen.
func New(facade Facade, refreshSecs int, debugUI bool) *Server {
	s := &Server{facade: facade, refreshSecs: refreshSecs, debugUI: debugUI}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/", s.handleIndex)
	e.GET("/settings", s.handleSettings)
	e.GET("/metrics", echo.WrapHandler(MetricsHandler()))
	s.echo = e
	return s
}

// Start listens on port, blocking until the server stops or errors.
func (s *Server) Start(port int) error {
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

// Shutdown gracefully stops the server, causing a blocked Start call to
// return http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// InsertHandlerEvent implements handler.CacheObserver; newly inserted
// handlers don't need any bookkeeping here, only their eventual retirement.
func (s *Server) InsertHandlerEvent(h handler.FileHandler) {}

// RetireHandlerEvent implements handler.CacheObserver, folding the
// handler's last known stats into the rolling retired list and the
// running seconds-filtered totals.
func (s *Server) RetireHandlerEvent(h handler.FileHandler) {
	stats := h.Status()
	if stats.AccessProgress >= 0 {
		s.mu.Lock()
		s.secondsMusicSeen += float64(stats.DurationSeconds)
		s.secondsFiltered += float64(stats.DurationSeconds) * float64(stats.AccessProgress)
		s.mu.Unlock()
	}
	if stats.MaxOutputValue > 1.0 {
		outputClippedTotal.Inc()
	}
	stats.LastAccess = time.Now()
	stats.Status = handler.Retired

	s.mu.Lock()
	s.retired = append([]handler.Stats{stats}, s.retired...)
	for len(s.retired) > maxRetired {
		s.retired = s.retired[:len(s.retired)-1]
		s.expungedRetired++
	}
	s.mu.Unlock()
}

func (s *Server) handleSettings(c echo.Context) error {
	if f := c.QueryParam("f"); f != "" {
		if index, err := strconv.Atoi(f); err == nil {
			if err := s.facade.SwitchByIndex(index); err != nil {
				slog.Warn("status: filter switch rejected", "index", index, "err", err)
			}
		}
	}
	if d := c.QueryParam("d"); s.debugUI && d != "" {
		debug := d == "1"
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		slog.SetLogLoggerLevel(level)
	}
	return c.Redirect(http.StatusFound, "/")
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, s.renderPage())
}

func (s *Server) renderPage() string {
	var b strings.Builder
	b.WriteString(pageHeader)
	if s.refreshSecs >= 0 {
		fmt.Fprintf(&b, "<meta http-equiv='refresh' content='%d'>\n", s.refreshSecs)
	}
	b.WriteString("</head><body>\n")

	s.appendFilterForm(&b)

	cacheStats := s.facade.CacheStats()
	s.observe(len(cacheStats))

	b.WriteString("<table cellpadding='3' style='border-collapse:collapse'>\n")
	for _, stats := range cacheStats {
		appendFileRow(&b, kActiveProgress, stats)
	}

	s.mu.Lock()
	retired := append([]handler.Stats(nil), s.retired...)
	expunged := s.expungedRetired
	filtered, seen := s.secondsFiltered, s.secondsMusicSeen
	s.mu.Unlock()

	for _, stats := range retired {
		appendFileRow(&b, kRetiredProgress, stats)
	}
	b.WriteString("</table>\n")

	fmt.Fprintf(&b, "<p>%d files opened (%d re-opened already-open files).</p>\n",
		s.facade.TotalOpenings()+s.facade.TotalReopens(), s.facade.TotalReopens())
	if seen > 0 {
		fmt.Fprintf(&b, "<p>%.0f seconds of music seen, %.0f seconds actually filtered (%d retired entries expunged).</p>\n",
			seen, filtered, expunged)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func (s *Server) appendFilterForm(b *strings.Builder) {
	current := s.facade.CurrentConfigDir()
	b.WriteString("<p>")
	for i, name := range s.facade.AvailableConfigDirs() {
		class := "inactive"
		if name == current {
			class = "active"
		}
		fmt.Fprintf(b, "<a class='filter_sel %s' href='/settings?f=%d'>%s</a> ",
			class, i, html.EscapeString(name))
	}
	fmt.Fprintf(b, "&nbsp;&nbsp;(underlying: %s)</p>\n", html.EscapeString(s.facade.UnderlyingDir()))
}

func appendFileRow(b *strings.Builder, progressStyle string, stats handler.Stats) {
	b.WriteString("<tr style='white-space:nowrap'>")
	fmt.Fprintf(b, "<td>%s</td>", stats.Status)

	switch {
	case stats.Message != "":
		fmt.Fprintf(b, "<td colspan='3' style='font-size:small'>%s</td>", html.EscapeString(stats.Message))
	case stats.AccessProgress == 0:
		b.WriteString("<td colspan='3' style='font-size:small'>Only header accessed</td>")
	default:
		filled := int(kProgressWidth * stats.AccessProgress)
		fmt.Fprintf(b,
			"<td>%s</td><td><div style='background:white;width:%dpx;border:1px solid black;'>"+
				"<div style='width:%dpx;background:%s;'>&nbsp;</div></div></td><td>%s</td>",
			arrowIf(stats.InGapless), kProgressWidth, filled, progressStyle, arrowIf(stats.OutGapless))
	}

	if stats.DurationSeconds >= 0 {
		elapsed := int(float32(stats.DurationSeconds) * stats.AccessProgress)
		fmt.Fprintf(b, "<td align='right'>%d:%02d</td><td>/</td><td align='right'>%d:%02d</td>",
			elapsed/60, elapsed%60, stats.DurationSeconds/60, stats.DurationSeconds%60)
	} else {
		b.WriteString("<td colspan='3'>-</td>")
	}

	if stats.MaxOutputValue > 1e-6 {
		bg := "white"
		if stats.MaxOutputValue > 1.0 {
			bg = "#FF0505"
		}
		db := 20 * math.Log10(float64(stats.MaxOutputValue))
		fmt.Fprintf(b, "<td align='right' style='background:%s;'>%.1f dB</td>", bg, db)
	} else {
		b.WriteString("<td>-</td>")
	}

	filterName := stats.FilterDir
	if filterName == "" {
		filterName = "-"
	}
	fmt.Fprintf(b, "<td bgcolor='#c0c0c0'>&nbsp;%s (%s)&nbsp;</td>", html.EscapeString(stats.Format), html.EscapeString(filterName))
	fmt.Fprintf(b, "<td style='font-size:small'>%s</td>", html.EscapeString(stats.Filename))
	b.WriteString("</tr>\n")
}

func arrowIf(on bool) string {
	if on {
		return "&rarr;"
	}
	return ""
}

const (
	kActiveProgress  = "#7070ff"
	kRetiredProgress = "#d0d0d0"
)

const pageHeader = `<html><head><title>convofs</title>
<style type='text/css'>
 a:link, a:visited { text-decoration:none; }
 a:hover, a:active { text-decoration:underline; }
 .filter_sel { font-weight:bold; padding:5px 15px; border-radius:5px; }
 .active { background-color:#a0a0ff; }
 .inactive { background-color:#e0e0e0; }
 .inactive:hover { background-color:#e0e0ff; color:#000000; }
</style>
`
