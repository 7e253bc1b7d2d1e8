package status

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/convofs/convofs/internal/handler"
	"github.com/convofs/convofs/internal/soundproc"
)

type fakeFacade struct {
	stats     []handler.Stats
	available []string
	current   string
	switched  int
	switchErr error
	openings  int64
	reopens   int64
	underlying string
}

func (f *fakeFacade) CacheStats() []handler.Stats      { return f.stats }
func (f *fakeFacade) AvailableConfigDirs() []string    { return f.available }
func (f *fakeFacade) CurrentConfigDir() string         { return f.current }
func (f *fakeFacade) TotalOpenings() int64             { return f.openings }
func (f *fakeFacade) TotalReopens() int64              { return f.reopens }
func (f *fakeFacade) UnderlyingDir() string            { return f.underlying }
func (f *fakeFacade) SwitchByIndex(index int) error {
	f.switched = index
	return f.switchErr
}

type fakeHandler struct{ stats handler.Stats }

func (h *fakeHandler) FilterDir() string                            { return h.stats.FilterDir }
func (h *fakeHandler) Read(buf []byte, offset int64) (int, error)   { return 0, nil }
func (h *fakeHandler) Stat() (handler.FileInfo, error)              { return handler.FileInfo{}, nil }
func (h *fakeHandler) Status() handler.Stats                        { return h.stats }
func (h *fakeHandler) AcceptProcessor(_ *soundproc.Processor) bool  { return false }
func (h *fakeHandler) Close() error                                 { return nil }

func TestRenderPageIncludesOpenAndRetiredRows(t *testing.T) {
	facade := &fakeFacade{
		stats: []handler.Stats{
			{Filename: "/a.flac", Status: handler.Open, AccessProgress: 0.5, DurationSeconds: 120, FilterDir: "rock"},
		},
		available: []string{"rock", "jazz"},
		current:   "rock",
	}
	s := New(facade, 10, false)

	s.retired = []handler.Stats{{Filename: "/b.flac", Status: handler.Retired, AccessProgress: 1, FilterDir: "jazz"}}

	page := s.renderPage()
	if !strings.Contains(page, "a.flac") {
		t.Fatalf("expected open file row for a.flac in page")
	}
	if !strings.Contains(page, "b.flac") {
		t.Fatalf("expected retired file row for b.flac in page")
	}
	if !strings.Contains(page, "rock") {
		t.Fatalf("expected the active filter to appear")
	}
}

func TestRetireHandlerEventAccumulatesSecondsAndBoundsHistory(t *testing.T) {
	facade := &fakeFacade{}
	s := New(facade, 10, false)

	for i := 0; i < maxRetired+5; i++ {
		s.RetireHandlerEvent(&fakeHandler{stats: handler.Stats{
			Filename: "x", AccessProgress: 1, DurationSeconds: 10,
		}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.retired) != maxRetired {
		t.Fatalf("got %d retired entries, want %d", len(s.retired), maxRetired)
	}
	if s.expungedRetired != 5 {
		t.Fatalf("got %d expunged, want 5", s.expungedRetired)
	}
	if s.secondsMusicSeen != float64((maxRetired+5)*10) {
		t.Fatalf("got %f seconds seen, want %f", s.secondsMusicSeen, float64((maxRetired+5)*10))
	}
}

func TestHandleSettingsSwitchesFilterAndRedirects(t *testing.T) {
	facade := &fakeFacade{}
	s := New(facade, 10, false)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/settings?f=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.handleSettings(c); err != nil {
		t.Fatalf("handleSettings: %v", err)
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusFound)
	}
	if facade.switched != 1 {
		t.Fatalf("got switched index %d, want 1", facade.switched)
	}
}
