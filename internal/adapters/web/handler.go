package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
	httpinfra "liuyan-board/internal/infra/http"
	"liuyan-board/internal/usecase/auth"
	"liuyan-board/internal/usecase/digest"
	"liuyan-board/internal/usecase/discussion"
	"liuyan-board/internal/usecase/engagement"
	"liuyan-board/internal/usecase/settings"
)

// AuthService — операции входа.
type AuthService interface {
	httpinfra.SessionVerifier
	RequestOTP(ctx context.Context, phone string) (string, error)
	Login(ctx context.Context, phone, code string) (auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// Board читает ленту.
type Board interface {
	List(ctx context.Context, viewerID string) ([]discussion.MessageNode, error)
}

// Engagement изменяет ленту.
type Engagement interface {
	PostMessage(ctx context.Context, session domain.Session, text string) (domain.Message, error)
	PostReply(ctx context.Context, session domain.Session, parentID, messageID, text string) (domain.Reply, error)
	ToggleLike(ctx context.Context, session domain.Session, targetID string, targetType domain.LikeTarget) (engagement.LikeResult, error)
}

// Settings читает и меняет настройки доставки.
type Settings interface {
	Get(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error)
}

// DigestSender отправляет дайджест немедленно.
type DigestSender interface {
	SendDigest(ctx context.Context) (digest.Result, error)
}

// Handler связывает HTTP-маршруты с операциями доски.
type Handler struct {
	auth     AuthService
	board    Board
	engage   Engagement
	settings Settings
	digest   DigestSender
	jobs     domain.DigestQueue
	log      zerolog.Logger
}

// NewHandler создаёт обработчик. jobs может быть nil, тогда асинхронная отправка недоступна.
func NewHandler(authSvc AuthService, board Board, engage Engagement, settingsSvc Settings, sender DigestSender, jobs domain.DigestQueue, log zerolog.Logger) *Handler {
	return &Handler{auth: authSvc, board: board, engage: engage, settings: settingsSvc, digest: sender, jobs: jobs, log: log}
}

// Register подключает маршруты API.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(api chi.Router) {
		api.Use(httpinfra.WithSession(h.auth))

		api.Post("/auth/request-otp", h.requestOTP)
		api.Post("/auth/verify-otp", h.verifyOTP)
		api.Get("/messages", h.listMessages)
		api.Get("/settings/email", h.getSettings)
		api.Post("/settings/email", h.updateSettings)
		api.Post("/send-weekly", h.sendWeekly)

		api.Group(func(protected chi.Router) {
			protected.Use(httpinfra.RequireSession)
			protected.Delete("/auth/session", h.logout)
			protected.Post("/messages", h.postMessage)
			protected.Post("/replies", h.postReply)
			protected.Put("/likes/{targetId}", h.toggleLike)
		})
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpinfra.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("http: ошибка обработки запроса")
	}
	httpinfra.WriteError(w, err)
}

type otpRequest struct {
	Phone string `json:"phone"`
}

type otpResponse struct {
	DemoCode string `json:"demoCode"`
}

func (h *Handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	code, err := h.auth.RequestOTP(r.Context(), req.Phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, otpResponse{DemoCode: code})
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), httpinfra.TokenFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type listResponse struct {
	Items []discussion.MessageNode `json:"items"`
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	viewer := ""
	if sess, ok := httpinfra.SessionFromContext(r.Context()); ok {
		viewer = sess.UserID
	}
	items, err := h.board.List(r.Context(), viewer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

type postMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, _ := httpinfra.SessionFromContext(r.Context())
	var req postMessageRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	msg, err := h.engage.PostMessage(r.Context(), sess, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, msg)
}

type postReplyRequest struct {
	MessageID string `json:"messageId"`
	ParentID  string `json:"parentId"`
	Text      string `json:"text"`
}

func (h *Handler) postReply(w http.ResponseWriter, r *http.Request) {
	sess, _ := httpinfra.SessionFromContext(r.Context())
	var req postReplyRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reply, err := h.engage.PostReply(r.Context(), sess, req.ParentID, req.MessageID, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, reply)
}

type likeRequest struct {
	Type domain.LikeTarget `json:"type"`
}

func (h *Handler) toggleLike(w http.ResponseWriter, r *http.Request) {
	sess, _ := httpinfra.SessionFromContext(r.Context())
	var req likeRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.engage.ToggleLike(r.Context(), sess, chi.URLParam(r, "targetId"), req.Type)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, settings.Redacted(st))
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := decode(w, r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	st, err := h.settings.Update(r.Context(), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, settings.Redacted(st))
}

type queuedResponse struct {
	Queued bool   `json:"queued"`
	JobID  string `json:"jobId"`
}

// sendWeekly отправляет дайджест сразу; с ?async=true задача уходит в очередь воркера.
func (h *Handler) sendWeekly(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.jobs == nil {
			h.fail(w, r, fmt.Errorf("%w: digest queue is not configured", domain.ErrInvalidInput))
			return
		}
		now := time.Now().UTC()
		job := domain.DigestJob{ID: uuid.NewString(), ScheduledAt: now, RequestedAt: now, Cause: domain.DigestCauseManual}
		if err := h.jobs.Enqueue(r.Context(), job); err != nil {
			h.fail(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusAccepted, queuedResponse{Queued: true, JobID: job.ID})
		return
	}
	res, err := h.digest.SendDigest(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, res)
}
