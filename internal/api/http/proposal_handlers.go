package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	domainProposal "github.com/barterhub/barterhub/internal/domain/proposal"
)

type proposeHopRequest struct {
	OfferedID  string `json:"offered_id"`
	WantedID   string `json:"wanted_id"`
	GiverID    string `json:"giver_id"`
	ReceiverID string `json:"receiver_id"`
}

type proposeTradeRequest struct {
	Hops []proposeHopRequest `json:"hops"`
}

func (s *Server) proposeTrade(w http.ResponseWriter, r *http.Request) {
	var req proposeTradeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	cycle := domainProposal.Cycle{Hops: make([]domainProposal.Hop, 0, len(req.Hops))}
	for _, h := range req.Hops {
		hop, err := parseHop(h)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
			return
		}
		cycle.Hops = append(cycle.Hops, hop)
	}
	p, err := s.proposalSvc.Propose(r.Context(), cycle)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func parseHop(h proposeHopRequest) (domainProposal.Hop, error) {
	var hop domainProposal.Hop
	var err error
	if hop.OfferedID, err = uuid.Parse(h.OfferedID); err != nil {
		return hop, &domainProposal.ValidationError{Reason: "invalid offered_id"}
	}
	if hop.WantedID, err = uuid.Parse(h.WantedID); err != nil {
		return hop, &domainProposal.ValidationError{Reason: "invalid wanted_id"}
	}
	if hop.GiverID, err = uuid.Parse(h.GiverID); err != nil {
		return hop, &domainProposal.ValidationError{Reason: "invalid giver_id"}
	}
	if hop.ReceiverID, err = uuid.Parse(h.ReceiverID); err != nil {
		return hop, &domainProposal.ValidationError{Reason: "invalid receiver_id"}
	}
	return hop, nil
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "proposalId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid proposalId")
		return
	}
	p, err := s.proposalSvc.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type respondRequest struct {
	MemberID string `json:"member_id"`
	Accept   bool   `json:"accept"`
}

func (s *Server) respondToProposal(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "proposalId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid proposalId")
		return
	}
	var req respondRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	memberID, err := parseUUID(req.MemberID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid member_id")
		return
	}
	p, err := s.proposalSvc.Respond(r.Context(), id, memberID, req.Accept)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
