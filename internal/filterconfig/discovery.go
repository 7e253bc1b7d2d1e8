package filterconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidConfigPath is returned by SanitizeSubdir when the requested
// subdirectory resolves outside the configured base directory.
var ErrInvalidConfigPath = errors.New("filterconfig: invalid config path")

// Resolve finds the most specific readable filter config for the given
// audio format under base/subdir, in order of specificity:
// filter-R-C-B.conf, filter-R-C.conf, filter-R.conf.
func Resolve(base, subdir string, rate, channels, bits int) (string, error) {
	dir, err := SanitizeSubdir(base, subdir)
	if err != nil {
		return "", err
	}

	candidates := []string{
		fmt.Sprintf("filter-%d-%d-%d.conf", rate, channels, bits),
		fmt.Sprintf("filter-%d-%d.conf", rate, channels),
		fmt.Sprintf("filter-%d.conf", rate),
	}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if accessible(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("filterconfig: no filter-%d[-%d[-%d]].conf readable under %s", rate, channels, bits, dir)
}

func accessible(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// SanitizeSubdir resolves base joined with subdir and verifies the
// result is still contained within base, rejecting attempts to escape
// it via ".." or symlinks. An empty subdir resolves to base itself.
func SanitizeSubdir(base, subdir string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("filterconfig: resolve base dir %s: %w", base, err)
	}
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return "", fmt.Errorf("filterconfig: base dir %s: %w", base, err)
	}

	joined := filepath.Join(realBase, subdir)
	real := joined
	if resolved, err := filepath.EvalSymlinks(joined); err == nil {
		real = resolved
	}

	rel, err := filepath.Rel(realBase, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrInvalidConfigPath, subdir, base)
	}
	return joined, nil
}

// ListConfigDirs enumerates the immediate subdirectories of base; each
// one is the user-visible name of a selectable filter.
func ListConfigDirs(base string) ([]string, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("filterconfig: list %s: %w", base, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
