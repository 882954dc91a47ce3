package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the optional debug surface: a human-readable text
// report and its JSON form.
func (m *Monitor) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/report", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(m.GenerateReport()))
	})
	r.Get("/report.json", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
	return r
}
