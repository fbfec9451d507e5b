package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	appExchange "github.com/barterhub/barterhub/internal/application/exchange"
	appListing "github.com/barterhub/barterhub/internal/application/listing"
	appMatching "github.com/barterhub/barterhub/internal/application/matching"
	appProposal "github.com/barterhub/barterhub/internal/application/proposal"
	appUser "github.com/barterhub/barterhub/internal/application/user"
	domainListing "github.com/barterhub/barterhub/internal/domain/listing"
	"github.com/barterhub/barterhub/internal/domain/notification"
	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
	"github.com/barterhub/barterhub/internal/domain/trade"
	"github.com/barterhub/barterhub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	userSvc     *appUser.Service
	listingSvc  *appListing.Service
	matchingSvc *appMatching.Service
	proposalSvc *appProposal.Service
	exchangeSvc *appExchange.Service
	sseHub      *sse.Hub
}

func NewServer(
	userSvc *appUser.Service,
	listingSvc *appListing.Service,
	matchingSvc *appMatching.Service,
	proposalSvc *appProposal.Service,
	exchangeSvc *appExchange.Service,
	sseHub *sse.Hub,
) *Server {
	return &Server{
		userSvc:     userSvc,
		listingSvc:  listingSvc,
		matchingSvc: matchingSvc,
		proposalSvc: proposalSvc,
		exchangeSvc: exchangeSvc,
		sseHub:      sseHub,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/", s.registerUser)
			r.Get("/", s.listUsers)
			r.Get("/{userId}", s.getUser)
			r.Post("/{userId}/status", s.setUserStatus)
			r.Put("/{userId}/reputation", s.setUserReputation)
			r.Get("/{userId}/trades", s.getTradeHistory)
		})

		r.Route("/listings", func(r chi.Router) {
			r.Post("/", s.createListing)
			r.Get("/", s.listListings)
			r.Get("/{listingId}", s.getListing)
			r.Post("/{listingId}/withdraw", s.withdrawListing)
			r.Post("/{listingId}/reserve", s.reserveListing)
			r.Post("/{listingId}/release", s.releaseListing)
			r.Get("/{listingId}/cycles", s.findCandidateCycles)
		})

		r.Route("/proposals", func(r chi.Router) {
			r.Post("/", s.proposeTrade)
			r.Get("/{proposalId}", s.getProposal)
			r.Post("/{proposalId}/respond", s.respondToProposal)
		})

		r.Route("/trades", func(r chi.Router) {
			r.Get("/ledger/verify", s.verifyLedger)
		})

		r.Get("/events/sse", s.sseEndpoint)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"clients": s.sseHub.ClientCount(),
	})
}

// sseEndpoint streams engine events to one client over server-sent
// events. Delivery is best effort; a slow consumer misses events rather
// than stalling the engine.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "client_id required")
		return
	}
	var userPtr *uuid.UUID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid user_id")
			return
		}
		userPtr = &userID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := notification.NewSSEClient(clientID, userPtr)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to flush headers and keep the connection alive.
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case event := <-client.MessageChan:
			if event == nil {
				return
			}
			payload, _ := json.Marshal(event)
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondDomainError maps engine errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var listingConflict *domainListing.ConflictError
	var listingValidation *domainListing.ValidationError
	var proposalValidation *domainProposal.ValidationError
	var cycleTooLong *domainProposal.CycleTooLongError

	switch {
	case errors.Is(err, domainListing.ErrNotFound),
		errors.Is(err, domainProposal.ErrNotFound),
		errors.Is(err, trade.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.As(err, &listingConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domainProposal.ErrExpired):
		respondError(w, http.StatusGone, "EXPIRED", err.Error())
	case errors.Is(err, domainProposal.ErrNotParticipant),
		errors.Is(err, appListing.ErrNotOwner):
		respondError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, domainProposal.ErrAlreadyResponded),
		errors.Is(err, domainProposal.ErrProposalClosed),
		errors.Is(err, domainProposal.ErrInvalidTransition),
		errors.Is(err, domainProposal.ErrStale):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.As(err, &listingValidation),
		errors.As(err, &proposalValidation),
		errors.As(err, &cycleTooLong):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
