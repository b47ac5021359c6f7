package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/usecase/schedule"
)

// redactedKey подставляется вместо ключа API в ответах.
const redactedKey = "********"

var (
	emailRegex  = regexp.MustCompile(`^.+@.+\..+$`)
	chatIDRegex = regexp.MustCompile(`^-?\d+$`)
)

// Service читает и обновляет настройки доставки дайджеста.
type Service struct {
	store domain.Collection[domain.Settings]
	log   zerolog.Logger
}

// NewService создаёт сервис настроек.
func NewService(store domain.EntityStore, log zerolog.Logger) *Service {
	return &Service{store: domain.NewCollection[domain.Settings](store, domain.KindSettings), log: log}
}

// Get возвращает настройки; если их ещё нет, возвращаются значения по умолчанию.
func (s *Service) Get(ctx context.Context) (domain.Settings, error) {
	st, err := s.store.Get(ctx, domain.SettingsID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("чтение настроек: %w", err)
	}
	st.ID = domain.SettingsID
	if st.Provider == "" {
		st.Provider = domain.ProviderMock
	}
	if st.SendLogs == nil {
		st.SendLogs = []domain.SendLog{}
	}
	return st, nil
}

// Save записывает настройки целиком.
func (s *Service) Save(ctx context.Context, st domain.Settings) error {
	st.ID = domain.SettingsID
	if err := s.store.Put(ctx, domain.SettingsID, st); err != nil {
		return fmt.Errorf("запись настроек: %w", err)
	}
	return nil
}

// Update применяет частичное изменение и проверяет итоговые настройки.
func (s *Service) Update(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	st, err := s.Get(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if patch.Recipient != nil {
		st.Recipient = strings.TrimSpace(*patch.Recipient)
	}
	if patch.Provider != nil {
		st.Provider = *patch.Provider
	}
	if patch.APIURL != nil {
		st.APIURL = strings.TrimSpace(*patch.APIURL)
	}
	if patch.APIKey != nil && *patch.APIKey != redactedKey {
		st.APIKey = *patch.APIKey
	}
	if patch.Timezone != nil {
		tz := strings.TrimSpace(*patch.Timezone)
		if tz == "" {
			st.Timezone = ""
		} else {
			normalized, err := schedule.NormalizeTimezone(tz)
			if err != nil {
				return domain.Settings{}, err
			}
			st.Timezone = normalized
		}
	}
	if err := Validate(st); err != nil {
		return domain.Settings{}, err
	}
	if err := s.Save(ctx, st); err != nil {
		return domain.Settings{}, err
	}
	s.log.Info().Str("provider", string(st.Provider)).Str("timezone", st.Timezone).Msg("settings: настройки обновлены")
	return st, nil
}

// Validate проверяет согласованность полей.
func Validate(st domain.Settings) error {
	switch st.Provider {
	case domain.ProviderMock, domain.ProviderHTTP:
		if st.Recipient != "" && !emailRegex.MatchString(st.Recipient) {
			return fmt.Errorf("%w: recipient must be an email address", domain.ErrInvalidInput)
		}
	case domain.ProviderTelegram:
		if st.Recipient != "" && !chatIDRegex.MatchString(st.Recipient) {
			return fmt.Errorf("%w: recipient must be a numeric chat id", domain.ErrInvalidInput)
		}
		if st.APIKey == "" {
			return fmt.Errorf("%w: apiKey (bot token) is required for telegram", domain.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: provider must be mock, http or telegram", domain.ErrInvalidInput)
	}
	if st.Provider == domain.ProviderHTTP {
		u, err := url.Parse(st.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: apiUrl must be an absolute http(s) URL", domain.ErrInvalidInput)
		}
	}
	return nil
}

// Redacted возвращает копию настроек без ключа API для выдачи наружу.
func Redacted(st domain.Settings) domain.Settings {
	if st.APIKey != "" {
		st.APIKey = redactedKey
	}
	return st
}
