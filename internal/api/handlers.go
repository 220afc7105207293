package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/grid"
	"github.com/sells-group/gridmap/internal/overlay"
	"github.com/sells-group/gridmap/internal/region"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Len(),
	})
}

type regionView struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Cells int         `json:"cells"`
	BBox  region.BBox `json:"bbox"`
}

func (s *Server) regions(w http.ResponseWriter, r *http.Request) {
	m, err := s.hub.Membership(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]regionView, 0, len(m.Regions()))
	for _, reg := range m.Regions() {
		out = append(out, regionView{
			ID:    reg.ID,
			Name:  reg.Name,
			Cells: len(m.Cells(reg.ID)),
			BBox:  region.Bounds(reg.Geometry),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   m.Stats(),
		"regions": out,
	})
}

func (s *Server) summary(w http.ResponseWriter, _ *http.Request) {
	period, table := s.hub.Period()
	counts := table.Summary()
	byName := make(map[string]int, len(grid.All))
	for _, c := range grid.All {
		byName[c.String()] = counts[c]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period":     period,
		"cells":      table.Len(),
		"duplicates": table.Duplicates(),
		"counts":     byName,
	})
}

func (s *Server) periods(w http.ResponseWriter, _ *http.Request) {
	active, _ := s.hub.Period()
	var list []dataset.Period
	def := ""
	if s.catalog != nil {
		list, def = s.catalog.Periods(), s.catalog.Default()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":  active,
		"default": def,
		"periods": list,
	})
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	stats, err := s.hub.Reload(r.Context(), name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period": name,
		"stats":  stats,
	})
}

func (s *Server) openSession(w http.ResponseWriter, _ *http.Request) {
	sess := s.hub.Open()
	writeJSON(w, http.StatusCreated, map[string]string{"session": sess.ID()})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*overlay.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.hub.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session "+id)
		return nil, false
	}
	return sess, true
}

func (s *Server) frame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Frame())
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) event(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var ev overlay.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "request body is not a valid event")
		return
	}
	if err := s.hub.Submit(r.Context(), sess.ID(), ev); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) prefetch(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if s.tiles == nil {
		writeError(w, http.StatusNotFound, "basemap proxy disabled")
		return
	}
	tiles := sess.Overlay().VisibleTiles()
	n, err := s.tiles.Prefetch(r.Context(), tiles, 4)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"tiles": len(tiles), "cached": n})
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.hub.Close(sess.ID())
	w.WriteHeader(http.StatusNoContent)
}
