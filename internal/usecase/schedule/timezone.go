package schedule

import (
	"fmt"
	"strings"
	"time"

	"liuyan-board/internal/domain"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = fmt.Errorf("%w: invalid timezone", domain.ErrInvalidInput)

// NormalizeTimezone приводит название пояса к каноническому виду: "europe/moscow" → "Europe/Moscow".
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}

// Location возвращает пояс по имени; пустое или неизвестное имя даёт fallback.
func Location(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
