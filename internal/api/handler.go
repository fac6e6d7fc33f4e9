package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DangeRika/Web-chat/internal/auth"
	"github.com/DangeRika/Web-chat/internal/chat"
	"github.com/DangeRika/Web-chat/internal/identity"
	"github.com/DangeRika/Web-chat/internal/realtime"
)

const maxBodyBytes = 64 << 10

// Handler wires the HTTP endpoints to the identity, auth, and chat services.
type Handler struct {
	log         *slog.Logger
	auth        *auth.Service
	users       identity.Store
	chats       chat.Store
	broadcaster *realtime.Broadcaster
}

// NewHandler constructs the HTTP API handler.
func NewHandler(log *slog.Logger, authSvc *auth.Service, users identity.Store, chats chat.Store, broadcaster *realtime.Broadcaster) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, auth: authSvc, users: users, chats: chats, broadcaster: broadcaster}
}

// Register wires the API routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	mux.HandleFunc("GET /me", h.handleMe)
	mux.HandleFunc("PATCH /me", h.handleUpdateProfile)
	mux.HandleFunc("GET /users", h.handleUserList)
	mux.HandleFunc("GET /users/{public_id}", h.handleUserLookup)

	mux.HandleFunc("POST /chats", h.handleOpenChat)
	mux.HandleFunc("GET /chats/{chat_id}/messages", h.handleHistory)
	mux.HandleFunc("POST /chats/{chat_id}/messages", h.handleSend)
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	u, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "username_taken", "username already in use")
		case errors.Is(err, identity.ErrPasswordTooShort), errors.Is(err, identity.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, "invalid_password", err.Error())
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid username")
		default:
			h.log.Error("api.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "registration failed")
		}
		return
	}

	h.log.Info("api.register", "user_id", u.ID, "username", u.Username)
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	issued, u, err := h.auth.Login(r.Context(), time.Now().UTC(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		default:
			h.log.Error("api.login.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:             toUserResponse(u),
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	access, exp, err := h.auth.Refresh(r.Context(), time.Now().UTC(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
			writeError(w, http.StatusUnauthorized, "invalid_token", "refresh token not accepted")
		default:
			h.log.Error("api.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, accessTokenResponse{AccessToken: access, AccessExpiresAt: exp})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.auth.Logout(r.Context(), time.Now().UTC(), u.ID); err != nil {
		h.log.Error("api.logout.fail", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- profile and lookup ----

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	username := u.Username
	if req.Username != nil {
		username = *req.Username
	}
	bio := u.Bio
	if req.Bio != nil {
		bio = req.Bio
	}

	updated, err := h.users.UpdateProfile(r.Context(), u.ID, username, bio)
	if err != nil {
		switch {
		case identity.IsConflict(err):
			writeError(w, http.StatusConflict, "username_taken", "username already in use")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_input", "invalid profile fields")
		default:
			h.log.Error("api.profile.update.fail", "user_id", u.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "profile update failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// handleUserList returns the full user directory, ordered by signup.
func (h *Handler) handleUserList(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.log.Error("api.user.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "user listing failed")
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleUserLookup(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	publicID := strings.ToLower(strings.TrimSpace(r.PathValue("public_id")))
	target, err := h.users.GetByPublicID(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such user")
			return
		}
		h.log.Error("api.user.lookup.fail", "public_id", publicID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(target))
}

// ---- chats ----

type openChatRequest struct {
	PeerPublicID string `json:"peer_public_id"`
}

func (h *Handler) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req openChatRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	peer, err := h.users.GetByPublicID(r.Context(), strings.ToLower(strings.TrimSpace(req.PeerPublicID)))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such user")
			return
		}
		h.log.Error("api.chat.open.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat open failed")
		return
	}

	ch, err := h.chats.GetOrCreatePrivateChat(r.Context(), u.ID, peer.ID)
	if err != nil {
		if errors.Is(err, chat.ErrSelfChat) {
			writeError(w, http.StatusBadRequest, "self_chat", "cannot open a chat with yourself")
			return
		}
		h.log.Error("api.chat.open.fail", "user_id", u.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat open failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{ID: ch.ID, CreatedAt: ch.CreatedAt})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := h.memberChatID(w, r, u.ID)
	if !ok {
		return
	}

	q := r.URL.Query()
	var sinceID *int64
	if raw := strings.TrimSpace(q.Get("since_id")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid since_id")
			return
		}
		sinceID = &n
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}

	out, err := h.chats.ListMessages(r.Context(), chat.ListMessagesInput{ChatID: chatID, SinceID: sinceID, Limit: limit})
	if err != nil {
		h.log.Error("api.history.fail", "chat_id", chatID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "history fetch failed")
		return
	}

	publicIDs := map[int64]string{u.ID: u.PublicID}
	msgs := make([]messageResponse, 0, len(out.Messages))
	for _, m := range out.Messages {
		pid, cached := publicIDs[m.SenderID]
		if !cached {
			if sender, err := h.users.GetByID(r.Context(), m.SenderID); err == nil {
				pid = sender.PublicID
			}
			publicIDs[m.SenderID] = pid
		}
		msgs = append(msgs, toMessageResponse(m, pid))
	}

	writeJSON(w, http.StatusOK, historyResponse{ChatID: chatID, Messages: msgs, HasMore: out.HasMore})
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chatID, ok := h.memberChatID(w, r, u.ID)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	msg, delivered, err := h.broadcaster.Deliver(r.Context(), chatID, u.ID, u.PublicID, req.Content, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrContentEmpty), errors.Is(err, chat.ErrContentTooLong):
			writeError(w, http.StatusBadRequest, "content_invalid", err.Error())
		default:
			h.log.Error("api.send.fail", "chat_id", chatID, "err", err)
			writeError(w, http.StatusInternalServerError, "store_unavailable", "message not accepted")
		}
		return
	}

	h.log.Debug("api.send", "chat_id", chatID, "message_id", msg.Token, "delivered", delivered)
	writeJSON(w, http.StatusCreated, toMessageResponse(msg, u.PublicID))
}

// ---- helpers ----

// requireUser resolves the Authorization bearer token. It writes a 401 on
// failure and reports whether the caller may proceed.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) <= 7 || !strings.EqualFold(header[:7], "Bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return identity.User{}, false
	}

	u, err := h.auth.Resolve(r.Context(), strings.TrimSpace(header[7:]), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "token not accepted")
		return identity.User{}, false
	}
	return u, true
}

// memberChatID parses the chat_id path value and enforces membership.
func (h *Handler) memberChatID(w http.ResponseWriter, r *http.Request, userID int64) (int64, bool) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("chat_id")), 10, 64)
	if err != nil || chatID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid chat id")
		return 0, false
	}

	if _, err := h.chats.GetChat(r.Context(), chatID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such chat")
			return 0, false
		}
		h.log.Error("api.chat.get.fail", "chat_id", chatID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "chat lookup failed")
		return 0, false
	}

	ok, err := h.chats.IsMember(r.Context(), chatID, userID)
	if err != nil {
		h.log.Error("api.member.fail", "chat_id", chatID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "membership check failed")
		return 0, false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden", "not a member of this chat")
		return 0, false
	}
	return chatID, true
}
