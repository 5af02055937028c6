package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gazeta-aberta/gazeta/internal/gazette"
	"github.com/gazeta-aberta/gazeta/internal/registry"
)

// SubscriptionRequest is the POST /subscriptions body. New subscriptions
// start active.
type SubscriptionRequest struct {
	URL           string                      `json:"url"    validate:"required,url"`
	Events        []string                    `json:"events" validate:"required,min=1,dive,oneof=gazette.analyzed concurso.detected licitacao.detected"`
	Filters       gazette.SubscriptionFilters `json:"filters"`
	Auth          *gazette.SubscriptionAuth   `json:"auth,omitempty"`
	Retry         gazette.RetryPolicy         `json:"retry"`
	MaxDeliveries *int                        `json:"maxDeliveries,omitempty" validate:"omitempty,gt=0"`
}

// SubscriptionListResponse is the GET /subscriptions reply.
type SubscriptionListResponse struct {
	Subscriptions []gazette.Subscription `json:"subscriptions"`
	Count         int                    `json:"count"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %s", err))

		return
	}

	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))

		return
	}

	if err := checkSubscription(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())

		return
	}

	sub := &gazette.Subscription{
		ID:            uuid.NewString(),
		URL:           req.URL,
		Events:        req.Events,
		Filters:       req.Filters,
		Auth:          req.Auth,
		Retry:         req.Retry,
		MaxDeliveries: req.MaxDeliveries,
		Active:        true,
	}

	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		s.logger.ErrorContext(ctx, "create subscription failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not create subscription")

		return
	}

	s.invalidateSubscribers()
	s.logger.InfoContext(ctx, "subscription created",
		"subscription_id", sub.ID, "events", sub.Events)
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subs, err := s.subs.ListSubscriptions(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "list subscriptions failed", "error", err)
		respondError(w, http.StatusInternalServerError, "could not list subscriptions")

		return
	}

	respondJSON(w, http.StatusOK, SubscriptionListResponse{
		Subscriptions: subs,
		Count:         len(subs),
	})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	err := s.subs.DeleteSubscription(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		respondError(w, http.StatusNotFound, "subscription not found")

		return
	}

	if err != nil {
		s.logger.ErrorContext(ctx, "delete subscription failed",
			"subscription_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "could not delete subscription")

		return
	}

	s.invalidateSubscribers()
	s.logger.InfoContext(ctx, "subscription deleted", "subscription_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateSubscribers() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}

// checkSubscription covers the cross-field rules the tag validator
// cannot express.
func checkSubscription(req SubscriptionRequest) error {
	if req.Filters.MinConfidence < 0 || req.Filters.MinConfidence > 1 {
		return errors.New("filters.minConfidence must be between 0 and 1")
	}

	if req.Auth == nil {
		return nil
	}

	switch req.Auth.Kind {
	case gazette.AuthBearer:
		if req.Auth.Token == "" {
			return errors.New("auth.token is required for bearer auth")
		}
	case gazette.AuthBasic:
		if req.Auth.Username == "" || req.Auth.Password == "" {
			return errors.New("auth.username and auth.password are required for basic auth")
		}
	case gazette.AuthCustom:
		if req.Auth.Header == "" || req.Auth.Value == "" {
			return errors.New("auth.header and auth.value are required for custom auth")
		}
	default:
		return fmt.Errorf("unknown auth kind %q", req.Auth.Kind)
	}

	return nil
}
