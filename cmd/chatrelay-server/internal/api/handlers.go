// Package api provides HTTP handlers for the chatrelay server REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/identity"
	"github.com/coregx/chatrelay/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// Tokens issues, validates and revokes bearer credentials.
type Tokens interface {
	identity.Gate
	Issue(id model.Identity) (identity.Token, error)
	Revoke(ctx context.Context, token string) error
}

// Accounts checks login credentials.
type Accounts interface {
	Login(ctx context.Context, name, password string) (model.Identity, error)
}

// StatsProvider reports relay counters.
type StatsProvider interface {
	Stats() chatrelay.HubStats
}

// Services are the dependencies of the API handlers.
type Services struct {
	Sender     *chatrelay.Sender
	Store      *chatrelay.MessageStore
	Authorizer *chatrelay.ChannelAuthorizer
	Tokens     Tokens
	Accounts   Accounts
	Stats      StatsProvider

	// OnMessageSent is called after every successful send. Optional.
	OnMessageSent func(model.Message)
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc    Services
	logger chatrelay.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, logger chatrelay.Logger) (*Handler, error) {
	if svc.Sender == nil || svc.Store == nil || svc.Authorizer == nil || svc.Tokens == nil || svc.Accounts == nil {
		return nil, chatrelay.NewError(chatrelay.ErrCodeConfiguration,
			"sender, store, authorizer, tokens and accounts are required")
	}
	if logger == nil {
		logger = &chatrelay.NoopLogger{}
	}
	return &Handler{svc: svc, logger: logger}, nil
}

// Routes registers the REST endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /message/send", h.authenticated(h.HandleSend))
	mux.HandleFunc("GET /messages/{user}", h.authenticated(h.HandleHistory))
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("GET /auth/me", h.authenticated(h.HandleMe))
	mux.HandleFunc("POST /auth/logout", h.authenticated(h.HandleLogout))
	mux.HandleFunc("POST /broadcasting/auth", h.authenticated(h.HandleBroadcastingAuth))
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendMessageRequest is the body of POST /message/send.
type SendMessageRequest struct {
	ReceiverID IdentityID `json:"receiver_id"`
	Message    string     `json:"message"`
}

// IdentityID is an identity id that decodes from a JSON number or a numeric string,
// as browser clients often send form values verbatim.
type IdentityID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *IdentityID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid identity id %s", data)
	}
	*id = IdentityID(n)
	return nil
}

// Validate implements validation.Validatable.
func (r SendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ReceiverID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Message, validation.Required),
	)
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Validate implements validation.Validatable.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// LoginResponse carries the issued token and the identity it stands for.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Identity  model.Identity `json:"identity"`
}

// ChannelAuthRequest is the body of POST /broadcasting/auth, as JSON or form.
type ChannelAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

// Validate implements validation.Validatable.
func (r ChannelAuthRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SocketID, validation.Required),
		validation.Field(&r.ChannelName, validation.Required),
	)
}

// HandleSend handles POST /message/send
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	var req SendMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.svc.Sender.Send(r.Context(), chatrelay.SendRequest{
		SenderID:   caller.ID,
		ReceiverID: int64(req.ReceiverID),
		Body:       req.Message,
	})
	if err != nil {
		h.respondErr(w, err, http.StatusUnauthorized)
		return
	}

	if h.svc.OnMessageSent != nil {
		h.svc.OnMessageSent(result.Message)
	}

	message := "Message sent"
	if !result.Delivered {
		message = "Message stored; live delivery unavailable"
	}
	h.respondSuccess(w, http.StatusOK, result.Message, message)
}

// HandleHistory handles GET /messages/{user}?limit=&cursor=
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	peer, err := strconv.ParseInt(r.PathValue("user"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid user id", chatrelay.ErrCodeValidation)
		return
	}

	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid limit", chatrelay.ErrCodeValidation)
		return
	}
	cursor, err := intParam(query.Get("cursor"))
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "Invalid cursor", chatrelay.ErrCodeValidation)
		return
	}

	page, err := h.svc.Store.History(r.Context(), chatrelay.HistoryRequest{
		ParticipantA: caller.ID,
		ParticipantB: peer,
		Limit:        int(limit),
		Cursor:       cursor,
	})
	if err != nil {
		h.respondErr(w, err, http.StatusUnauthorized)
		return
	}

	h.respondSuccess(w, http.StatusOK, page, "")
}

// HandleLogin handles POST /auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.svc.Accounts.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		h.logger.Warnf("Login failed: name=%s", req.Name)
		h.respondErr(w, err, http.StatusUnauthorized)
		return
	}

	token, err := h.svc.Tokens.Issue(id)
	if err != nil {
		h.respondErr(w, err, http.StatusUnauthorized)
		return
	}

	h.logger.Infof("Login: identity=%d", id.ID)
	h.respondSuccess(w, http.StatusOK, LoginResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
		Identity:  id,
	}, "")
}

// HandleMe handles GET /auth/me
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())
	h.respondSuccess(w, http.StatusOK, caller, "")
}

// HandleLogout handles POST /auth/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Tokens.Revoke(r.Context(), identity.BearerToken(r)); err != nil {
		h.respondErr(w, err, http.StatusUnauthorized)
		return
	}
	h.respondSuccess(w, http.StatusOK, nil, "Logged out")
}

// HandleBroadcastingAuth handles POST /broadcasting/auth.
//
// The grant is written without the response envelope: Pusher clients read "auth" from
// the top-level object.
func (h *Handler) HandleBroadcastingAuth(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.FromContext(r.Context())

	var req ChannelAuthRequest
	if isJSON(r) {
		if !h.decode(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.respondError(w, http.StatusBadRequest, "Invalid form", "INVALID_FORM")
			return
		}
		req = ChannelAuthRequest{
			SocketID:    r.PostForm.Get("socket_id"),
			ChannelName: r.PostForm.Get("channel_name"),
		}
		if err := req.Validate(); err != nil {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), chatrelay.ErrCodeValidation)
			return
		}
	}

	grant, err := h.svc.Authorizer.Authorize(caller, req.ChannelName, req.SocketID)
	if err != nil {
		h.logger.Warnf("Channel auth denied: identity=%d, channel=%s", caller.ID, req.ChannelName)
		h.respondErr(w, err, http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(grant)
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}
	if h.svc.Stats != nil {
		health["relay"] = h.svc.Stats.Stats()
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// authenticated resolves the bearer token into an identity before calling next.
func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := h.svc.Tokens.Authenticate(r.Context(), identity.BearerToken(r))
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "Unauthenticated", chatrelay.ErrCodeUnauthorized)
			return
		}
		next(w, r.WithContext(identity.WithIdentity(r.Context(), id)))
	}
}

// decode reads a JSON body into v and validates it. It reports whether the handler may
// continue; on false the error response has been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return false
	}
	if err := v.Validate(); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), chatrelay.ErrCodeValidation)
		return false
	}
	return true
}

// respondErr maps a chatrelay error to a status. unauthorized is the status used for
// UNAUTHORIZED errors (401 or 403 depending on the endpoint).
func (h *Handler) respondErr(w http.ResponseWriter, err error, unauthorized int) {
	var status int
	switch {
	case chatrelay.IsValidation(err):
		status = http.StatusUnprocessableEntity
	case chatrelay.IsUnauthorized(err):
		status = unauthorized
	case chatrelay.IsNoData(err):
		status = http.StatusNotFound
	case chatrelay.IsRelayUnavailable(err), chatrelay.IsNetwork(err):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Errorf("Request failed: %v", err)
		h.respondError(w, http.StatusInternalServerError, "Internal error", "INTERNAL_ERROR")
		return
	}

	code := ""
	message := err.Error()
	var cerr *chatrelay.Error
	if errors.As(err, &cerr) {
		code = cerr.Code
		message = cerr.Message
	}
	h.respondError(w, status, message, code)
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func intParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
