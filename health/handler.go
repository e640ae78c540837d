package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the aggregated health report as JSON. The HTTP status is
// 200 for healthy or degraded systems and 503 for unhealthy ones, so load
// balancers can act on the probe without parsing the body.
func Handler(m *Monitor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		report := m.Report()

		w.Header().Set("Content-Type", "application/json")
		if report.Level == Unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
