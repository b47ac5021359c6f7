package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

var (
	phoneRegex = regexp.MustCompile(`^\d{11}$`)
	codeRegex  = regexp.MustCompile(`^\d{6}$`)
)

// Options задаёт временные параметры авторизации.
type Options struct {
	OTPTTL         time.Duration
	ResendInterval time.Duration
	// SessionTTL ограничивает срок жизни сессии. Ноль — бессрочные сессии.
	SessionTTL time.Duration
}

// DefaultOptions возвращает значения по умолчанию.
func DefaultOptions() Options {
	return Options{
		OTPTTL:         5 * time.Minute,
		ResendInterval: 60 * time.Second,
		SessionTTL:     7 * 24 * time.Hour,
	}
}

// LoginResult — результат успешной проверки кода.
type LoginResult struct {
	Token string          `json:"token"`
	User  domain.AuthUser `json:"user"`
}

// Service реализует выдачу и проверку кодов и сессий.
//
// Состояние хранится одной записью, каждая операция читает её целиком и записывает целиком.
// Одновременные изменения одной записи могут потерять обновление; коды и сессии меняются редко,
// поэтому блокировок здесь нет.
type Service struct {
	state domain.Collection[domain.AuthState]
	clock domain.Clock
	ids   domain.IDGenerator
	codes domain.CodeGenerator
	opts  Options
	log   zerolog.Logger
}

// NewService создаёт сервис авторизации.
func NewService(store domain.EntityStore, clock domain.Clock, ids domain.IDGenerator, codes domain.CodeGenerator, opts Options, log zerolog.Logger) *Service {
	return &Service{
		state: domain.NewCollection[domain.AuthState](store, domain.KindAuth),
		clock: clock,
		ids:   ids,
		codes: codes,
		opts:  opts,
		log:   log,
	}
}

// ValidatePhone проверяет, что номер состоит ровно из 11 цифр.
func ValidatePhone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return fmt.Errorf("%w: phone must be exactly 11 digits", domain.ErrInvalidInput)
	}
	return nil
}

// ValidateCode проверяет формат кода.
func ValidateCode(code string) error {
	if !codeRegex.MatchString(code) {
		return fmt.Errorf("%w: code must be 6 digits", domain.ErrInvalidInput)
	}
	return nil
}

func (s *Service) load(ctx context.Context) (domain.AuthState, error) {
	st, err := s.state.Get(ctx, domain.AuthStateID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewAuthState(), nil
	}
	if err != nil {
		return domain.AuthState{}, fmt.Errorf("чтение состояния авторизации: %w", err)
	}
	st.ID = domain.AuthStateID
	if st.OTPs == nil {
		st.OTPs = map[string]domain.OTPEntry{}
	}
	if st.Sessions == nil {
		st.Sessions = map[string]domain.Session{}
	}
	if st.RateLimits == nil {
		st.RateLimits = map[string]int64{}
	}
	return st, nil
}

func (s *Service) save(ctx context.Context, st domain.AuthState) error {
	if err := s.state.Put(ctx, domain.AuthStateID, st); err != nil {
		return fmt.Errorf("запись состояния авторизации: %w", err)
	}
	return nil
}

// RequestOTP выдаёт новый код для телефона и возвращает его (демо-режим, SMS не отправляется).
func (s *Service) RequestOTP(ctx context.Context, phone string) (string, error) {
	if err := ValidatePhone(phone); err != nil {
		metrics.OTPRequestsTotal.WithLabelValues("invalid").Inc()
		return "", err
	}
	st, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	now := s.clock.Now().UnixMilli()
	s.prune(&st, now)
	if last, ok := st.RateLimits[phone]; ok && now-last < s.opts.ResendInterval.Milliseconds() {
		metrics.OTPRequestsTotal.WithLabelValues("rate_limited").Inc()
		return "", domain.ErrRateLimited
	}
	code := s.codes.NewCode()
	st.OTPs[phone] = domain.OTPEntry{Code: code, ExpiresAt: now + s.opts.OTPTTL.Milliseconds()}
	st.RateLimits[phone] = now
	if err := s.save(ctx, st); err != nil {
		return "", err
	}
	metrics.OTPRequestsTotal.WithLabelValues("issued").Inc()
	s.log.Info().Str("phone", domain.MaskPhone(phone)).Msg("auth: код выдан")
	return code, nil
}

// prune убирает истёкшие коды и отметки лимита, которые уже ничего не ограничивают.
func (s *Service) prune(st *domain.AuthState, now int64) {
	for phone, entry := range st.OTPs {
		if now > entry.ExpiresAt {
			delete(st.OTPs, phone)
		}
	}
	for phone, last := range st.RateLimits {
		if now-last >= s.opts.ResendInterval.Milliseconds() {
			delete(st.RateLimits, phone)
		}
	}
}

// VerifyOTP проверяет код. Успешно проверенный код удаляется.
func (s *Service) VerifyOTP(ctx context.Context, phone, code string) error {
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	entry, ok := st.OTPs[phone]
	if !ok || entry.Code != code || s.clock.Now().UnixMilli() > entry.ExpiresAt {
		return domain.ErrInvalidOrExpired
	}
	delete(st.OTPs, phone)
	return s.save(ctx, st)
}

// CreateSession выдаёт токен сессии для пользователя.
func (s *Service) CreateSession(ctx context.Context, user domain.AuthUser) (string, error) {
	st, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	token := s.ids.NewID()
	st.Sessions[token] = domain.Session{UserID: user.ID, Phone: user.Phone, IssuedAt: s.clock.Now().UnixMilli()}
	if err := s.save(ctx, st); err != nil {
		return "", err
	}
	return token, nil
}

// VerifySession возвращает сессию по токену или ErrUnauthorized.
func (s *Service) VerifySession(ctx context.Context, token string) (domain.Session, error) {
	if token == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}
	st, err := s.load(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	sess, ok := st.Sessions[token]
	if !ok {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if s.opts.SessionTTL > 0 && s.clock.Now().UnixMilli()-sess.IssuedAt > s.opts.SessionTTL.Milliseconds() {
		delete(st.Sessions, token)
		if err := s.save(ctx, st); err != nil {
			s.log.Warn().Err(err).Msg("auth: не удалось удалить истёкшую сессию")
		}
		return domain.Session{}, domain.ErrUnauthorized
	}
	return sess, nil
}

// Login проверяет код и открывает сессию.
func (s *Service) Login(ctx context.Context, phone, code string) (LoginResult, error) {
	if err := ValidatePhone(phone); err != nil {
		return LoginResult{}, err
	}
	if err := ValidateCode(code); err != nil {
		return LoginResult{}, err
	}
	if err := s.VerifyOTP(ctx, phone, code); err != nil {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		return LoginResult{}, err
	}
	user := domain.AuthUser{ID: domain.UserIDForPhone(phone), Phone: phone}
	token, err := s.CreateSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	s.log.Info().Str("user", domain.MaskPhone(phone)).Msg("auth: вход выполнен")
	return LoginResult{Token: token, User: user}, nil
}

// Logout закрывает сессию. Неизвестный токен не считается ошибкой.
func (s *Service) Logout(ctx context.Context, token string) error {
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := st.Sessions[token]; !ok {
		return nil
	}
	delete(st.Sessions, token)
	return s.save(ctx, st)
}
