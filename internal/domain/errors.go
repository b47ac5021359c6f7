package domain

import "errors"

var (
	// ErrInvalidInput — некорректный телефон, код, текст или тип цели.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized — сессия отсутствует или недействительна.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited — код запрошен слишком рано.
	ErrRateLimited = errors.New("too many requests, please wait 60 seconds")
	// ErrInvalidOrExpired — код не совпал или истёк.
	ErrInvalidOrExpired = errors.New("invalid or expired code")
	// ErrDepthExceeded — превышена глубина вложенности ответов.
	ErrDepthExceeded = errors.New("reply depth exceeded")
	// ErrNotConfigured — не задан получатель дайджеста.
	ErrNotConfigured = errors.New("recipient not configured")
	// ErrDeliveryFailed — доставка не удалась после всех попыток.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNotFound — запись не найдена в хранилище.
	ErrNotFound = errors.New("not found")
)
