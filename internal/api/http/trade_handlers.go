package httpapi

import (
	"net/http"
)

func (s *Server) getTradeHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "userId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid userId")
		return
	}
	limit, offset := parseLimitOffset(r, 50, 200)
	trades, err := s.exchangeSvc.History(r.Context(), id, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) verifyLedger(w http.ResponseWriter, r *http.Request) {
	if err := s.exchangeSvc.VerifyLedger(r.Context()); err != nil {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"valid":   false,
			"message": err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}
