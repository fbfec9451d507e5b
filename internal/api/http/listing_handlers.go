package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
)

type createListingRequest struct {
	OwnerID     string   `json:"owner_id"`
	Direction   string   `json:"direction"`
	Categories  []string `json:"categories"`
	Description string   `json:"description,omitempty"`
	MatchExpr   string   `json:"match_expr,omitempty"`
}

func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	ownerID, err := parseUUID(req.OwnerID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid owner_id")
		return
	}
	l, err := s.listingSvc.Create(r.Context(), ownerID, domainListing.Direction(req.Direction), req.Categories, req.Description, req.MatchExpr)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "listingId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listingId")
		return
	}
	l, err := s.listingSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("owner_id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "owner_id is required")
		return
	}
	ownerID, err := parseUUID(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid owner_id")
		return
	}
	listings, err := s.listingSvc.ListByOwner(r.Context(), ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}

type listingActionRequest struct {
	OwnerID string `json:"owner_id"`
}

func (s *Server) withdrawListing(w http.ResponseWriter, r *http.Request) {
	s.listingAction(w, r, s.listingSvc.Withdraw)
}

func (s *Server) reserveListing(w http.ResponseWriter, r *http.Request) {
	s.listingAction(w, r, s.listingSvc.Reserve)
}

func (s *Server) releaseListing(w http.ResponseWriter, r *http.Request) {
	s.listingAction(w, r, s.listingSvc.Release)
}

func (s *Server) listingAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, listingID, ownerID uuid.UUID) error) {
	id, err := parseUUIDParam(r, "listingId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listingId")
		return
	}
	var req listingActionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	ownerID, err := parseUUID(req.OwnerID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid owner_id")
		return
	}
	if err := action(r.Context(), id, ownerID); err != nil {
		respondDomainError(w, err)
		return
	}
	l, err := s.listingSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

func (s *Server) findCandidateCycles(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "listingId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid listingId")
		return
	}
	cycles, err := s.matchingSvc.FindCandidateCycles(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}
