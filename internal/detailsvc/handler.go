package detailsvc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/pkg/detail"
)

// Finder looks up records near a coordinate.
type Finder interface {
	Near(ctx context.Context, lon, lat float64) ([]detail.Record, error)
}

// Handler serves the detail endpoints.
type Handler struct {
	finder Finder
	log    *zap.Logger
}

// NewHandler returns a Handler backed by f.
func NewHandler(f Finder) *Handler {
	return &Handler{
		finder: f,
		log:    zap.L().With(zap.String("component", "detailsvc")),
	}
}

// Routes mounts POST get_xy/ and dong_data/. Other methods get 405.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "only POST is allowed")
	})
	r.Post("/"+detail.CellPath, h.Cell)
	r.Post("/"+detail.AreaPath, h.Area)
	return r
}

// Cell returns full records near the posted coordinate.
func (h *Handler) Cell(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail.Response[detail.Record]{Data: recs})
}

// Area returns the naming of records near the posted coordinate.
func (h *Handler) Area(w http.ResponseWriter, r *http.Request) {
	recs, ok := h.lookup(w, r)
	if !ok {
		return
	}
	areas := make([]detail.Area, len(recs))
	for i, rec := range recs {
		areas[i] = rec.Area
	}
	writeJSON(w, http.StatusOK, detail.Response[detail.Area]{Data: areas})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) ([]detail.Record, bool) {
	var q detail.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not valid JSON")
		return nil, false
	}
	if q.Longitude == nil || q.Latitude == nil {
		writeError(w, http.StatusBadRequest, "longitude and latitude are required")
		return nil, false
	}

	lon, lat := *q.Longitude, *q.Latitude
	recs, err := h.finder.Near(r.Context(), lon, lat)
	if err != nil {
		h.log.Error("detail lookup failed", zap.Float64("lon", lon), zap.Float64("lat", lat), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error: "+err.Error())
		return nil, false
	}
	if len(recs) == 0 {
		writeError(w, http.StatusNotFound, "no data at the given coordinate")
		return nil, false
	}
	h.log.Debug("detail lookup", zap.Float64("lon", Round7(lon)), zap.Float64("lat", Round7(lat)), zap.Int("found", len(recs)))
	return recs, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detail.Response[detail.Record]{Error: msg})
}
