package geofence

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cdr.dev/slog/v3"
	"github.com/go-chi/chi/v5"

	"github.com/taxibcn/reten/internal/ledger"
	"github.com/taxibcn/reten/internal/ratelimit"
)

const (
	maxWindow = 7 * 24 * time.Hour
	// maxBodyBytes bounds check and exit request bodies.
	maxBodyBytes = 4 << 10
)

type Handler struct {
	svc    *Service
	logger slog.Logger
}

func NewHandler(svc *Service, logger slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a bounded JSON body into v. It reports the status to
// answer with when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, err
	}
	return http.StatusOK, nil
}

func isStorageError(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidInput)
}

// invalidMessage is the client facing text of an input error.
func invalidMessage(err error) string {
	var ve *ledger.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if errors.Is(err, ErrUnknownZone) {
		return "Unknown zone"
	}
	return "Invalid request"
}

// POST /geofence/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var in checkRequestIn
	if status, err := decodeBody(w, r, &in); err != nil {
		writeJSONStatus(w, status, checkResponse{Message: "Invalid request body"})
		return
	}
	if in.Lat == nil || in.Lng == nil {
		writeJSONStatus(w, http.StatusBadRequest, checkResponse{Message: "lat and lng are required"})
		return
	}

	res, err := h.svc.CheckAndRegister(r.Context(), CheckRequest{
		DeviceID: in.DeviceID,
		Lat:      *in.Lat,
		Lng:      *in.Lng,
		Action:   Action(in.Action),
	})
	if errors.Is(err, ErrInvalidInput) {
		writeJSONStatus(w, http.StatusBadRequest, checkResponse{Message: invalidMessage(err)})
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "geofence check failed",
			slog.F("device_id", in.DeviceID),
			slog.Error(err),
		)
		writeJSONStatus(w, http.StatusInternalServerError, checkResponse{Message: "Internal server error"})
		return
	}

	zone := res.Zone
	switch res.Outcome {
	case OutcomeNoZone:
		writeJSON(w, checkResponse{Message: "Not inside any zone"})
	case OutcomeDetected:
		writeJSON(w, checkResponse{Success: true, Zona: &zone, Message: fmt.Sprintf("Inside %s", zone)})
	case OutcomeConfirmed:
		writeJSON(w, checkResponse{Success: true, Zona: &zone, Message: fmt.Sprintf("Entry registered in %s", zone)})
	case OutcomeResumed:
		writeJSON(w, checkResponse{Success: true, Zona: &zone, Message: fmt.Sprintf("Already registered in %s", zone)})
	case OutcomeRateLimited:
		secs := ratelimit.Decision{Remaining: res.RetryAfter}.RemainingSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSONStatus(w, http.StatusTooManyRequests, checkResponse{
			Zona:              &zone,
			Message:           fmt.Sprintf("Please wait %d seconds before registering again", secs),
			RetryAfterSeconds: secs,
		})
	}
}

// POST /geofence/exit
func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	var in exitRequestIn
	if status, err := decodeBody(w, r, &in); err != nil {
		writeJSONStatus(w, status, exitResponse{Message: "Invalid request body"})
		return
	}

	closed, err := h.svc.RegisterExit(r.Context(), in.DeviceID, in.Zona)
	if errors.Is(err, ErrInvalidInput) {
		writeJSONStatus(w, http.StatusBadRequest, exitResponse{Message: invalidMessage(err)})
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "geofence exit failed",
			slog.F("device_id", in.DeviceID),
			slog.F("zone", in.Zona),
			slog.Error(err),
		)
		writeJSONStatus(w, http.StatusInternalServerError, exitResponse{Message: "Internal server error"})
		return
	}
	writeJSON(w, exitResponse{Success: true, Closed: closed})
}

// GET /geofence/zones
func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	all := h.svc.Zones()
	out := make([]ZoneOut, 0, len(all))
	for _, z := range all {
		zo := ZoneOut{Name: z.Name, Kind: z.Kind, Polygons: make([][][2]float64, 0, len(z.Polygons))}
		for _, ring := range z.Polygons {
			pts := make([][2]float64, 0, len(ring))
			for _, p := range ring {
				pts = append(pts, [2]float64{p.Lat, p.Lng})
			}
			zo.Polygons = append(zo.Polygons, pts)
		}
		out = append(out, zo)
	}
	writeJSON(w, out)
}

// GET /geofence/occupancy?window=2h
func (h *Handler) Occupancy(w http.ResponseWriter, r *http.Request) {
	window, ok := h.window(w, r)
	if !ok {
		return
	}
	snaps, err := h.svc.Occupancy(r.Context(), window)
	if err != nil {
		h.logger.Error(r.Context(), "occupancy failed", slog.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, occupancyResponse{WindowMinutes: window.Minutes(), Zones: snaps})
}

// GET /geofence/zones/{zone}/occupancy?window=2h
func (h *Handler) ZoneOccupancy(w http.ResponseWriter, r *http.Request) {
	window, ok := h.window(w, r)
	if !ok {
		return
	}
	snap, err := h.svc.ZoneOccupancy(r.Context(), chi.URLParam(r, "zone"), window)
	if errors.Is(err, ErrUnknownZone) {
		http.Error(w, "Unknown zone", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error(r.Context(), "zone occupancy failed", slog.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

// window reads the optional window query parameter, falling back to the
// service default.
func (h *Handler) window(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return h.svc.Window(), true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxWindow {
		http.Error(w, "Invalid window parameter", http.StatusBadRequest)
		return 0, false
	}
	return d, true
}
