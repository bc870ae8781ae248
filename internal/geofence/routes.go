package geofence

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// SetupRoutes mounts the geofence API. checksPerMinute caps /check per client
// IP; zero disables the cap.
func (h *Handler) SetupRoutes(checksPerMinute int) http.Handler {
	r := chi.NewRouter()

	check := http.HandlerFunc(h.Check)
	if checksPerMinute > 0 {
		r.With(httprate.Limit(
			checksPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeJSONStatus(w, http.StatusTooManyRequests, checkResponse{Message: "Too many requests"})
			}),
		)).Post("/check", check)
	} else {
		r.Post("/check", check)
	}

	r.Post("/exit", h.Exit)
	r.Get("/zones", h.ListZones)
	r.Get("/occupancy", h.Occupancy)
	r.Get("/zones/{zone}/occupancy", h.ZoneOccupancy)

	return r
}
