package web

import (
	"net/http"
)

type ratingRequest struct {
	Rating  *float64 `json:"rating"`
	Comment string   `json:"comment"`
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := snapshot(r.Context(), s.repo.ListRatings(r.Context(), r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings, s.logger)
}

func (s *Server) handleAddRating(w http.ResponseWriter, r *http.Request) {
	repo, err := s.repoFor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req ratingRequest
	if err := readJSON(r, &req); err != nil {
		badRequest(w, "invalid request body", s.logger)
		return
	}
	if req.Rating == nil {
		badRequest(w, "rating is required", s.logger)
		return
	}

	if err := repo.AddRating(r.Context(), r.PathValue("id"), *req.Rating, req.Comment); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRatingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.repo.SummarizeRatings(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary, s.logger)
}
