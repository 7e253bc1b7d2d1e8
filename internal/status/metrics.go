package status

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	openHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convofs",
		Name:      "open_handlers",
		Help:      "Number of file handlers currently held open by the handler cache.",
	})
	totalOpenings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convofs",
		Name:      "openings_total",
		Help:      "Number of times a file was opened and a fresh handler had to be built.",
	})
	totalReopens = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convofs",
		Name:      "reopens_total",
		Help:      "Number of times a file was opened while an existing handler could be reused.",
	})
	secondsFiltered = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "convofs",
		Name:      "seconds_filtered_total",
		Help:      "Cumulative seconds of audio actually pushed through a convolution filter.",
	})
	outputClippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "convofs",
		Name:      "output_clipped_total",
		Help:      "Number of handlers that reported a peak output sample above full scale.",
	})
)

// MetricsHandler returns the Prometheus scrape endpoint handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// observe refreshes the gauges from a fresh snapshot; called once per
// page render so /metrics never falls far behind what the HTML shows.
func (s *Server) observe(openCount int) {
	openHandlers.Set(float64(openCount))
	totalOpenings.Set(float64(s.facade.TotalOpenings()))
	totalReopens.Set(float64(s.facade.TotalReopens()))

	s.mu.Lock()
	secondsFiltered.Set(s.secondsFiltered)
	s.mu.Unlock()
}
