package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"liuyan-board/internal/domain"
)

// Envelope — общий формат ответов API.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WriteJSON пишет успешный ответ.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteError переводит доменную ошибку в код ответа. Неизвестные ошибки не раскрываются.
func WriteError(w http.ResponseWriter, err error) {
	status, msg := StatusFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Error: msg})
}

// StatusFor возвращает код ответа и текст для клиента.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, domain.ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, domain.ErrRateLimited.Error()
	case errors.Is(err, domain.ErrInvalidOrExpired):
		return http.StatusBadRequest, domain.ErrInvalidOrExpired.Error()
	case errors.Is(err, domain.ErrDepthExceeded):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrNotConfigured):
		return http.StatusBadRequest, domain.ErrNotConfigured.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
