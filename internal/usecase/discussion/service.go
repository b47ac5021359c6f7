package discussion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
)

// Service читает ленту сообщений.
type Service struct {
	messages domain.Collection[domain.Message]
	replies  domain.Collection[domain.Reply]
	likes    domain.Collection[domain.Like]
	clock    domain.Clock
	seedDemo bool
	log      zerolog.Logger
}

// NewService создаёт сервис ленты. При seedDemo пустая коллекция сообщений один раз заполняется примерами.
func NewService(store domain.EntityStore, clock domain.Clock, seedDemo bool, log zerolog.Logger) *Service {
	return &Service{
		messages: domain.NewCollection[domain.Message](store, domain.KindMessage),
		replies:  domain.NewCollection[domain.Reply](store, domain.KindReply),
		likes:    domain.NewCollection[domain.Like](store, domain.KindLike),
		clock:    clock,
		seedDemo: seedDemo,
		log:      log,
	}
}

// DemoMessages возвращает стартовые сообщения доски.
func DemoMessages(now time.Time) map[string]domain.Message {
	ms := now.UnixMilli()
	return map[string]domain.Message{
		"msg1": {
			ID:          "msg1",
			UserID:      "demo-user-1",
			PhoneMasked: "138****1234",
			Text:        "欢迎来到「留声」。这是一个注重视觉与交互体验的留言板。",
			TS:          ms - 24*time.Hour.Milliseconds(),
			ReplyIDs:    []string{},
		},
		"msg2": {
			ID:          "msg2",
			UserID:      "demo-user-2",
			PhoneMasked: "159****5678",
			Text:        "在这里，你可以自由地记录想法、分享瞬间。希望你喜欢。",
			TS:          ms - 12*time.Hour.Milliseconds(),
			ReplyIDs:    []string{},
		},
	}
}

// Snapshot читает все сообщения, ответы и лайки.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.seedDemo {
		if err := s.messages.EnsureSeeded(ctx, DemoMessages(s.clock.Now())); err != nil {
			return Snapshot{}, fmt.Errorf("посев сообщений: %w", err)
		}
	}
	messages, err := s.messages.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("чтение сообщений: %w", err)
	}
	replies, err := s.replies.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("чтение ответов: %w", err)
	}
	likes, err := s.likes.List(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("чтение лайков: %w", err)
	}
	return Snapshot{Messages: messages, Replies: replies, Likes: likes}, nil
}

// List возвращает ленту для зрителя. Пустой viewerID означает анонимного читателя.
func (s *Service) List(ctx context.Context, viewerID string) ([]MessageNode, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	items := Build(snap, viewerID)
	s.log.Debug().Int("messages", len(items)).Int("replies", len(snap.Replies)).Msg("discussion: лента собрана")
	return items, nil
}
