package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nugget/whim-agent/internal/fetch"
)

// FetchRequest is the body of POST /v1/fetch.
type FetchRequest struct {
	URL         string `json:"url"`
	IncludeHTML bool   `json:"include_html,omitempty"`
}

// FetchErrorResponse describes an exhausted fetch chain.
type FetchErrorResponse struct {
	Error     string            `json:"error"`
	Kind      fetch.FailureKind `json:"kind,omitempty"`
	Paywalled bool              `json:"paywalled,omitempty"`
	Attempts  []FetchAttempt    `json:"attempts,omitempty"`
}

// FetchAttempt is one provider's failure.
type FetchAttempt struct {
	Source     fetch.Source      `json:"source"`
	Kind       fetch.FailureKind `json:"kind"`
	StatusCode int               `json:"status_code,omitempty"`
	Error      string            `json:"error"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		s.errorResponse(w, http.StatusNotFound, "fetching is not enabled")
		return
	}

	var req FetchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	page, err := s.chain.FetchPageContent(r.Context(), req.URL)
	if err != nil {
		var ce *fetch.ChainError
		if !errors.As(err, &ce) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		resp := FetchErrorResponse{Error: ce.Error(), Kind: ce.Kind(), Paywalled: ce.Paywalled()}
		for _, f := range ce.Failures {
			resp.Attempts = append(resp.Attempts, FetchAttempt{
				Source:     f.Source,
				Kind:       f.Kind,
				StatusCode: f.StatusCode,
				Error:      f.Error(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		writeJSON(w, resp, s.logger)
		return
	}

	if !req.IncludeHTML {
		page.RawHTML = ""
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, page, s.logger)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		s.errorResponse(w, http.StatusNotFound, "fetching is not enabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.chain.Cache().Stats(), s.logger)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		s.errorResponse(w, http.StatusNotFound, "fetching is not enabled")
		return
	}
	s.chain.Cache().Clear()
	s.logger.Info("page cache cleared")
	w.WriteHeader(http.StatusNoContent)
}
