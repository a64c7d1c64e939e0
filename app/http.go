package app

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/gateway"
	"gomint/models"
	"gomint/notification"
	"gomint/storage"
)

const maxInternalBody = 64 << 10

// RelationshipNone removes the record between two identities.
const RelationshipNone = "NONE"

type userRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username,omitempty"`
}

type relationshipRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type communityRequest struct {
	TokenID   string `json:"tokenId"`
	TokenName string `json:"tokenName"`
	Creator   string `json:"creator"`
}

type deactivateRequest struct {
	Caller string `json:"caller"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := a.store.Ping(); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registerInternal mounts the endpoints the friend, token and user services
// call to feed this process.
func (a *App) registerInternal(mux *http.ServeMux) {
	mux.Handle("POST /internal/notifications", a.requireServiceToken(a.handlePublish))
	mux.Handle("POST /internal/users", a.requireServiceToken(a.handleUpsertUser))
	mux.Handle("POST /internal/relationships", a.requireServiceToken(a.handleRelationship))
	mux.Handle("POST /internal/communities", a.requireServiceToken(a.handleCreateCommunity))
	mux.Handle("POST /internal/communities/{id}/deactivate", a.requireServiceToken(a.handleDeactivateCommunity))
}

func (a *App) requireServiceToken(next http.HandlerFunc) http.Handler {
	expected := []byte(a.cfg.Internal.ServiceToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), expected) != 1 {
			a.security.Record(gateway.SecurityServiceAuth, storage.SecuritySeverityWarning, "", r.RemoteAddr, map[string]string{"path": r.URL.Path})
			a.writeError(w, fmt.Errorf("invalid service token: %w", apperr.ErrUnauthorized))
			return
		}
		next(w, r)
	})
}

func (a *App) handlePublish(w http.ResponseWriter, r *http.Request) {
	var event notification.Event
	if err := decodeBody(r, &event); err != nil {
		a.writeError(w, err)
		return
	}
	created, err := a.notifications.Publish(event)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.FromNotification(*created))
}

func (a *App) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	if wallet == "" {
		a.writeError(w, fmt.Errorf("walletAddress is required: %w", apperr.ErrInvalidArgument))
		return
	}

	user, err := a.users.Register(wallet)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if req.Username != "" && req.Username != user.Username {
		if err := a.store.UpdateUsername(wallet, req.Username); err != nil {
			a.writeError(w, err)
			return
		}
		a.users.Invalidate(wallet)
		user.Username = req.Username
	}
	writeJSON(w, http.StatusOK, userRequest{WalletAddress: user.WalletAddress, Username: user.Username})
}

func (a *App) handleRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}

	sender := strings.TrimSpace(req.Sender)
	receiver := strings.TrimSpace(req.Receiver)
	for _, wallet := range []string{sender, receiver} {
		if _, err := a.users.Lookup(wallet); err != nil {
			a.writeError(w, err)
			return
		}
	}

	if strings.EqualFold(strings.TrimSpace(req.Status), RelationshipNone) {
		removed, err := a.store.DeleteFriend(sender, receiver)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
		return
	}

	friend, err := a.store.UpsertFriend(storage.Friend{
		Sender:   sender,
		Receiver: receiver,
		Status:   strings.ToUpper(strings.TrimSpace(req.Status)),
		Message:  req.Message,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, relationshipRequest{
		Sender:   friend.Sender,
		Receiver: friend.Receiver,
		Status:   friend.Status,
		Message:  friend.Message,
	})
}

func (a *App) handleCreateCommunity(w http.ResponseWriter, r *http.Request) {
	var req communityRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	created, err := a.communities.CreateForToken(req.TokenID, req.TokenName, req.Creator)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.FromCommunity(*created))
}

func (a *App) handleDeactivateCommunity(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, err)
		return
	}
	updated, err := a.communities.Deactivate(r.PathValue("id"), req.Caller)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.FromCommunity(*updated))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxInternalBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, apperr.ErrInvalidArgument)
	}
	return nil
}

func (a *App) writeError(w http.ResponseWriter, err error) {
	code := apperr.Code(err)
	if code == apperr.CodeInternal {
		a.logger.Error("internal request failed", zap.Error(err))
	}
	var body errorBody
	body.Error.Code = code
	body.Error.Message = apperr.PublicMessage(err)
	writeJSON(w, statusFor(code), body)
}

func statusFor(code string) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodePreconditionFailed:
		return http.StatusPreconditionFailed
	case apperr.CodeIntegrity:
		return http.StatusConflict
	case apperr.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
