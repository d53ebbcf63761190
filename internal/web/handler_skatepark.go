package web

import (
	"context"
	"net/http"

	"github.com/vbonduro/where2skate/internal/domain"
	"github.com/vbonduro/where2skate/internal/repository"
)

type skateparkRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Location    domain.GeoPoint `json:"location"`
	Address     string          `json:"address"`
}

// snapshot returns the first value of sub and releases it.
func snapshot[T any](ctx context.Context, sub *repository.Subscription[T]) (T, error) {
	defer sub.Close()

	var zero T
	select {
	case v, ok := <-sub.Updates():
		if !ok {
			return zero, sub.Err()
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *Server) handleListSkateparks(w http.ResponseWriter, r *http.Request) {
	parks, err := snapshot(r.Context(), s.repo.ListSkateparks(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parks, s.logger)
}

func (s *Server) handleGetSkatepark(w http.ResponseWriter, r *http.Request) {
	park, err := snapshot(r.Context(), s.repo.GetSkatepark(r.Context(), r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if park == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "skatepark not found"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, park, s.logger)
}

func (s *Server) handleAddSkatepark(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req skateparkRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}

	id, err := repo.AddSkatepark(r.Context(), repository.NewSkatepark{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Address:     req.Address,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Location", "/skateparks/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id}, s.logger)
}

// handleUpdateSkatepark replaces the whole record. Only signed-in users may
// change skateparks.
func (s *Server) handleUpdateSkatepark(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r, "update_skatepark") {
		return
	}

	var park domain.Skatepark
	if err := readJSON(r, &park); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}
	park.ID = r.PathValue("id")

	if err := s.repo.UpdateSkatepark(r.Context(), park); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSkatepark(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w, r, "delete_skatepark") {
		return
	}

	if err := s.repo.DeleteSkatepark(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireSession writes a 401 and returns false unless the request carries a
// valid token.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, op string) bool {
	sess, err := s.session(r)
	if err != nil {
		s.writeError(w, err)
		return false
	}
	if sess == nil {
		s.writeError(w, &repository.AuthorizationError{Op: op})
		return false
	}
	return true
}
