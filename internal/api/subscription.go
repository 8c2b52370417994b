package api

import (
	"net/http"

	"github.com/digkill/lookstudio/internal/models"
	"github.com/digkill/lookstudio/internal/service"
)

type subscriptionResponse struct {
	*models.Subscription
	Unlimited       bool                     `json:"unlimited"`
	LastTransaction *models.TokenTransaction `json:"lastTransaction,omitempty"`
}

func (s *Server) subscriptionOf(r *http.Request, userID int64) (*subscriptionResponse, error) {
	sub, err := s.svc.Tokens.GetOrCreateSubscription(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	last, err := s.svc.Tokens.LastTransaction(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	return &subscriptionResponse{Subscription: sub, Unlimited: sub.IsUnlimited(), LastTransaction: last}, nil
}

func (s *Server) handleSubscriptionInfo(w http.ResponseWriter, r *http.Request) {
	resp, err := s.subscriptionOf(r, currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type consumeRequest struct {
	Operation   models.Operation `json:"operation" validate:"required"`
	Description string           `json:"description" validate:"max=500"`
}

// handleConsume reports a shortfall in the body with success=false rather
// than as an error status.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Tokens.Consume(r.Context(), currentUser(r).ID, req.Operation, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hist, err := s.svc.Tokens.History(r.Context(), currentUser(r).ID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleTiers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]service.TierInfo{"tiers": s.svc.Tokens.Tiers()})
}

func (s *Server) handleCosts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]map[models.Operation]int{"costs": s.svc.Tokens.Costs()})
}

// adminTarget loads the user addressed by the {id} path parameter and makes
// sure they have a subscription to manage.
func (s *Server) adminTarget(r *http.Request) (*models.User, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	user, err := s.svc.Users.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := s.svc.Tokens.GetOrCreateSubscription(r.Context(), user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *Server) handleAdminSubscription(w http.ResponseWriter, r *http.Request) {
	target, err := s.adminTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.subscriptionOf(r, target.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type changeTierRequest struct {
	Tier models.Tier `json:"tier" validate:"required"`
}

func (s *Server) handleChangeTier(w http.ResponseWriter, r *http.Request) {
	target, err := s.adminTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req changeTierRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Tokens.ChangeTier(r.Context(), target.ID, req.Tier, currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type topupRequest struct {
	// Amount is signed; negative values deduct tokens.
	Amount      int    `json:"amount" validate:"required"`
	Description string `json:"description" validate:"max=500"`
}

func (s *Server) handleTopup(w http.ResponseWriter, r *http.Request) {
	target, err := s.adminTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req topupRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Tokens.AdminAdjust(r.Context(), target.ID, req.Amount, req.Description, currentUser(r).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleResetPeriod(w http.ResponseWriter, r *http.Request) {
	target, err := s.adminTarget(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	adminID := currentUser(r).ID
	sub, err := s.svc.Tokens.ResetPeriod(r.Context(), target.ID, &adminID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
