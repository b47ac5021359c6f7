package engagement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

// maxParentWalk ограничивает подъём по цепочке родителей при вычислении глубины.
const maxParentWalk = 5

// LikeResult — состояние лайка после переключения.
type LikeResult struct {
	Liked bool `json:"liked"`
	Count int  `json:"count"`
}

// Service создаёт сообщения и ответы и переключает лайки.
//
// Переключение лайка читает запись лайка и счётчик цели, затем пишет их по отдельности.
// Параллельные переключения одной цели разными пользователями могут потерять инкремент счётчика.
type Service struct {
	messages domain.Collection[domain.Message]
	replies  domain.Collection[domain.Reply]
	likes    domain.Collection[domain.Like]
	clock    domain.Clock
	ids      domain.IDGenerator
	log      zerolog.Logger
}

// NewService создаёт сервис.
func NewService(store domain.EntityStore, clock domain.Clock, ids domain.IDGenerator, log zerolog.Logger) *Service {
	return &Service{
		messages: domain.NewCollection[domain.Message](store, domain.KindMessage),
		replies:  domain.NewCollection[domain.Reply](store, domain.KindReply),
		likes:    domain.NewCollection[domain.Like](store, domain.KindLike),
		clock:    clock,
		ids:      ids,
		log:      log,
	}
}

func requireSession(session domain.Session) error {
	if session.UserID == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

// ValidateText обрезает пробелы и проверяет длину текста.
func ValidateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: text is required", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > domain.MaxTextLength {
		return "", fmt.Errorf("%w: text must be at most %d characters", domain.ErrInvalidInput, domain.MaxTextLength)
	}
	return text, nil
}

// PostMessage публикует корневое сообщение.
func (s *Service) PostMessage(ctx context.Context, session domain.Session, raw string) (domain.Message, error) {
	if err := requireSession(session); err != nil {
		return domain.Message{}, err
	}
	text, err := ValidateText(raw)
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:          s.ids.NewID(),
		UserID:      session.UserID,
		PhoneMasked: domain.MaskPhone(session.Phone),
		Text:        text,
		TS:          s.clock.Now().UnixMilli(),
		ReplyIDs:    []string{},
	}
	if err := s.messages.Put(ctx, msg.ID, msg); err != nil {
		return domain.Message{}, fmt.Errorf("сохранение сообщения: %w", err)
	}
	metrics.PostsCreatedTotal.WithLabelValues("message").Inc()
	s.log.Info().Str("message", msg.ID).Str("user", msg.PhoneMasked).Msg("engagement: сообщение опубликовано")
	return msg, nil
}

// parentDepth возвращает глубину родителя (0 для сообщения) и идентификатор корневого сообщения.
func (s *Service) parentDepth(ctx context.Context, parentID string) (int, string, error) {
	depth := 0
	current := parentID
	for {
		_, err := s.messages.Get(ctx, current)
		if err == nil {
			return depth, current, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, "", fmt.Errorf("чтение сообщения: %w", err)
		}
		r, err := s.replies.Get(ctx, current)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, "", fmt.Errorf("parent %s: %w", current, domain.ErrNotFound)
		}
		if err != nil {
			return 0, "", fmt.Errorf("чтение ответа: %w", err)
		}
		depth++
		if depth > maxParentWalk {
			return 0, "", fmt.Errorf("%w: parent chain too long", domain.ErrDepthExceeded)
		}
		current = r.ParentID
	}
}

// PostReply добавляет ответ к сообщению или к другому ответу.
// messageID может быть пустым, тогда корень определяется по цепочке родителей.
func (s *Service) PostReply(ctx context.Context, session domain.Session, parentID, messageID, raw string) (domain.Reply, error) {
	if err := requireSession(session); err != nil {
		return domain.Reply{}, err
	}
	text, err := ValidateText(raw)
	if err != nil {
		return domain.Reply{}, err
	}
	if parentID == "" {
		parentID = messageID
	}
	if parentID == "" {
		return domain.Reply{}, fmt.Errorf("%w: parentId is required", domain.ErrInvalidInput)
	}
	depth, rootID, err := s.parentDepth(ctx, parentID)
	if err != nil {
		return domain.Reply{}, err
	}
	if messageID != "" && messageID != rootID {
		return domain.Reply{}, fmt.Errorf("%w: parent does not belong to message %s", domain.ErrInvalidInput, messageID)
	}
	if depth+1 > domain.MaxReplyDepth {
		return domain.Reply{}, fmt.Errorf("%w: at most %d reply levels", domain.ErrDepthExceeded, domain.MaxReplyDepth)
	}

	reply := domain.Reply{
		ID:          s.ids.NewID(),
		MessageID:   rootID,
		ParentID:    parentID,
		UserID:      session.UserID,
		PhoneMasked: domain.MaskPhone(session.Phone),
		Text:        text,
		TS:          s.clock.Now().UnixMilli(),
		ReplyIDs:    []string{},
	}
	if err := s.replies.Put(ctx, reply.ID, reply); err != nil {
		return domain.Reply{}, fmt.Errorf("сохранение ответа: %w", err)
	}
	if err := s.linkChild(ctx, parentID, depth, reply.ID); err != nil {
		if delErr := s.replies.Delete(context.WithoutCancel(ctx), reply.ID); delErr != nil {
			s.log.Error().Err(delErr).Str("reply", reply.ID).Msg("engagement: не удалось удалить непривязанный ответ")
		}
		return domain.Reply{}, err
	}
	metrics.PostsCreatedTotal.WithLabelValues("reply").Inc()
	s.log.Info().Str("reply", reply.ID).Str("parent", parentID).Int("depth", depth+1).Msg("engagement: ответ опубликован")
	return reply, nil
}

func (s *Service) linkChild(ctx context.Context, parentID string, parentDepth int, childID string) error {
	if parentDepth == 0 {
		m, err := s.messages.Get(ctx, parentID)
		if err != nil {
			return fmt.Errorf("чтение сообщения: %w", err)
		}
		m.ReplyIDs = append(m.ReplyIDs, childID)
		if err := s.messages.Put(ctx, m.ID, m); err != nil {
			return fmt.Errorf("обновление сообщения: %w", err)
		}
		return nil
	}
	r, err := s.replies.Get(ctx, parentID)
	if err != nil {
		return fmt.Errorf("чтение ответа: %w", err)
	}
	r.ReplyIDs = append(r.ReplyIDs, childID)
	if err := s.replies.Put(ctx, r.ID, r); err != nil {
		return fmt.Errorf("обновление ответа: %w", err)
	}
	return nil
}

// ToggleLike ставит лайк, если его нет, и снимает, если он есть.
func (s *Service) ToggleLike(ctx context.Context, session domain.Session, targetID string, targetType domain.LikeTarget) (LikeResult, error) {
	if err := requireSession(session); err != nil {
		return LikeResult{}, err
	}
	if !targetType.Valid() {
		return LikeResult{}, fmt.Errorf("%w: type must be message or reply", domain.ErrInvalidInput)
	}
	if targetID == "" {
		return LikeResult{}, fmt.Errorf("%w: targetId is required", domain.ErrInvalidInput)
	}

	count, err := s.likeCount(ctx, targetID, targetType)
	if err != nil {
		return LikeResult{}, err
	}

	key := domain.LikeKey(session.UserID, targetID)
	_, err = s.likes.Get(ctx, key)
	switch {
	case err == nil:
		if err := s.likes.Delete(ctx, key); err != nil {
			return LikeResult{}, fmt.Errorf("удаление лайка: %w", err)
		}
		count = max(count-1, 0)
		if err := s.setLikeCount(ctx, targetID, targetType, count); err != nil {
			return LikeResult{}, err
		}
		metrics.LikeTogglesTotal.WithLabelValues("unlike").Inc()
		return LikeResult{Liked: false, Count: count}, nil
	case errors.Is(err, domain.ErrNotFound):
		like := domain.Like{
			ID:         key,
			TargetID:   targetID,
			TargetType: targetType,
			UserID:     session.UserID,
			TS:         s.clock.Now().UnixMilli(),
		}
		if err := s.likes.Put(ctx, key, like); err != nil {
			return LikeResult{}, fmt.Errorf("сохранение лайка: %w", err)
		}
		count++
		if err := s.setLikeCount(ctx, targetID, targetType, count); err != nil {
			return LikeResult{}, err
		}
		metrics.LikeTogglesTotal.WithLabelValues("like").Inc()
		return LikeResult{Liked: true, Count: count}, nil
	default:
		return LikeResult{}, fmt.Errorf("чтение лайка: %w", err)
	}
}

func (s *Service) likeCount(ctx context.Context, targetID string, targetType domain.LikeTarget) (int, error) {
	if targetType == domain.LikeTargetMessage {
		m, err := s.messages.Get(ctx, targetID)
		if err != nil {
			return 0, fmt.Errorf("message %s: %w", targetID, err)
		}
		return m.Likes, nil
	}
	r, err := s.replies.Get(ctx, targetID)
	if err != nil {
		return 0, fmt.Errorf("reply %s: %w", targetID, err)
	}
	return r.Likes, nil
}

// setLikeCount перечитывает цель перед записью, чтобы не затереть новые ответы.
func (s *Service) setLikeCount(ctx context.Context, targetID string, targetType domain.LikeTarget, count int) error {
	if targetType == domain.LikeTargetMessage {
		m, err := s.messages.Get(ctx, targetID)
		if err != nil {
			return fmt.Errorf("message %s: %w", targetID, err)
		}
		m.Likes = count
		if err := s.messages.Put(ctx, targetID, m); err != nil {
			return fmt.Errorf("обновление сообщения: %w", err)
		}
		return nil
	}
	r, err := s.replies.Get(ctx, targetID)
	if err != nil {
		return fmt.Errorf("reply %s: %w", targetID, err)
	}
	r.Likes = count
	if err := s.replies.Put(ctx, targetID, r); err != nil {
		return fmt.Errorf("обновление ответа: %w", err)
	}
	return nil
}
