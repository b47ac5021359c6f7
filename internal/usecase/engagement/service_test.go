package engagement

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liuyan-board/internal/adapters/repo"
	"liuyan-board/internal/domain"
	"liuyan-board/internal/usecase/auth"
	"liuyan-board/internal/usecase/discussion"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now сдвигает время на миллисекунду при каждом вызове, чтобы записи различались по времени.
func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + strconv.Itoa(g.n)
}

type fixedCode string

func (c fixedCode) NewCode() string { return string(c) }

var alice = domain.Session{UserID: "user:13800000000", Phone: "13800000000"}
var bob = domain.Session{UserID: "user:13900000000", Phone: "13900000000"}

func newTestService(store domain.EntityStore) *Service {
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(store, clock, &seqIDs{}, zerolog.Nop())
}

func TestPostMessageValidation(t *testing.T) {
	svc := newTestService(repo.NewMemory())
	ctx := context.Background()

	if _, err := svc.PostMessage(ctx, domain.Session{}, "hello"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ожидали ErrUnauthorized, получили %v", err)
	}
	cases := []string{"", "   \n\t", strings.Repeat("字", domain.MaxTextLength+1)}
	for _, text := range cases {
		if _, err := svc.PostMessage(ctx, alice, text); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("ожидали ErrInvalidInput для %d символов, получили %v", len([]rune(text)), err)
		}
	}
	msg, err := svc.PostMessage(ctx, alice, "  "+strings.Repeat("字", domain.MaxTextLength)+" ")
	if err != nil {
		t.Fatalf("500 символов допустимы: %v", err)
	}
	if msg.PhoneMasked != "138****0000" || msg.Likes != 0 || len(msg.ReplyIDs) != 0 {
		t.Fatalf("неожиданное сообщение: %+v", msg)
	}
	if strings.HasPrefix(msg.Text, " ") {
		t.Fatalf("текст должен быть обрезан")
	}
}

func TestPostReplyDepthBoundary(t *testing.T) {
	svc := newTestService(repo.NewMemory())
	ctx := context.Background()
	msg, err := svc.PostMessage(ctx, alice, "root")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	parent := msg.ID
	for level := 1; level <= domain.MaxReplyDepth; level++ {
		r, err := svc.PostReply(ctx, bob, parent, msg.ID, "level "+strconv.Itoa(level))
		if err != nil {
			t.Fatalf("уровень %d должен приниматься: %v", level, err)
		}
		if r.MessageID != msg.ID || r.ParentID != parent {
			t.Fatalf("неверные ссылки ответа: %+v", r)
		}
		parent = r.ID
	}
	if _, err := svc.PostReply(ctx, bob, parent, msg.ID, "too deep"); !errors.Is(err, domain.ErrDepthExceeded) {
		t.Fatalf("ожидали ErrDepthExceeded, получили %v", err)
	}
}

func TestPostReplyLinksParent(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	msg, _ := svc.PostMessage(ctx, alice, "root")
	r1, err := svc.PostReply(ctx, bob, msg.ID, "", "first")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	r2, err := svc.PostReply(ctx, alice, r1.ID, "", "nested")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if r2.MessageID != msg.ID {
		t.Fatalf("корень должен определяться по цепочке: %+v", r2)
	}
	storedMsg, _ := domain.NewCollection[domain.Message](store, domain.KindMessage).Get(ctx, msg.ID)
	if len(storedMsg.ReplyIDs) != 1 || storedMsg.ReplyIDs[0] != r1.ID {
		t.Fatalf("сообщение должно ссылаться на ответ: %+v", storedMsg.ReplyIDs)
	}
	storedReply, _ := domain.NewCollection[domain.Reply](store, domain.KindReply).Get(ctx, r1.ID)
	if len(storedReply.ReplyIDs) != 1 || storedReply.ReplyIDs[0] != r2.ID {
		t.Fatalf("ответ должен ссылаться на вложенный: %+v", storedReply.ReplyIDs)
	}
}

func TestPostReplyErrors(t *testing.T) {
	svc := newTestService(repo.NewMemory())
	ctx := context.Background()
	m1, _ := svc.PostMessage(ctx, alice, "one")
	m2, _ := svc.PostMessage(ctx, alice, "two")
	r, _ := svc.PostReply(ctx, bob, m1.ID, m1.ID, "reply")

	if _, err := svc.PostReply(ctx, bob, "missing", "", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.PostReply(ctx, bob, r.ID, m2.ID, "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ожидали ErrInvalidInput при чужом корне, получили %v", err)
	}
	if _, err := svc.PostReply(ctx, bob, "", "", "x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ожидали ErrInvalidInput без родителя, получили %v", err)
	}
	if _, err := svc.PostReply(ctx, domain.Session{}, m1.ID, m1.ID, "x"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ожидали ErrUnauthorized, получили %v", err)
	}
}

func TestPostReplyStopsOnCorruptChain(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	replies := domain.NewCollection[domain.Reply](store, domain.KindReply)
	_ = replies.Put(ctx, "a", domain.Reply{ID: "a", ParentID: "b"})
	_ = replies.Put(ctx, "b", domain.Reply{ID: "b", ParentID: "a"})
	if _, err := svc.PostReply(ctx, bob, "a", "", "x"); !errors.Is(err, domain.ErrDepthExceeded) {
		t.Fatalf("цикл должен обрываться с ErrDepthExceeded, получили %v", err)
	}
}

func TestToggleLikeIsItsOwnInverse(t *testing.T) {
	svc := newTestService(repo.NewMemory())
	ctx := context.Background()
	msg, _ := svc.PostMessage(ctx, alice, "root")
	r, _ := svc.PostReply(ctx, alice, msg.ID, msg.ID, "reply")

	for _, target := range []struct {
		id  string
		typ domain.LikeTarget
	}{{msg.ID, domain.LikeTargetMessage}, {r.ID, domain.LikeTargetReply}} {
		first, err := svc.ToggleLike(ctx, bob, target.id, target.typ)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if !first.Liked || first.Count != 1 {
			t.Fatalf("ожидали лайк и счётчик 1: %+v", first)
		}
		second, err := svc.ToggleLike(ctx, bob, target.id, target.typ)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if second.Liked || second.Count != 0 {
			t.Fatalf("повторное переключение должно вернуть исходное состояние: %+v", second)
		}
	}
}

func TestToggleLikeFloorsCounter(t *testing.T) {
	store := repo.NewMemory()
	svc := newTestService(store)
	ctx := context.Background()
	msg, _ := svc.PostMessage(ctx, alice, "root")
	key := domain.LikeKey(bob.UserID, msg.ID)
	_ = domain.NewCollection[domain.Like](store, domain.KindLike).Put(ctx, key, domain.Like{ID: key, TargetID: msg.ID, UserID: bob.UserID})

	res, err := svc.ToggleLike(ctx, bob, msg.ID, domain.LikeTargetMessage)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Liked || res.Count != 0 {
		t.Fatalf("счётчик не должен уходить в минус: %+v", res)
	}
}

func TestToggleLikeErrors(t *testing.T) {
	svc := newTestService(repo.NewMemory())
	ctx := context.Background()
	msg, _ := svc.PostMessage(ctx, alice, "root")
	if _, err := svc.ToggleLike(ctx, bob, msg.ID, "post"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("ожидали ErrInvalidInput, получили %v", err)
	}
	if _, err := svc.ToggleLike(ctx, bob, "missing", domain.LikeTargetMessage); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
	if _, err := svc.ToggleLike(ctx, bob, msg.ID, domain.LikeTargetReply); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("тип цели должен совпадать с коллекцией, получили %v", err)
	}
	if _, err := svc.ToggleLike(ctx, domain.Session{}, msg.ID, domain.LikeTargetMessage); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("ожидали ErrUnauthorized, получили %v", err)
	}
}

// barrierStore задерживает первые чтения сообщений, пока оба переключения не прочитают счётчик.
type barrierStore struct {
	domain.EntityStore
	parties int32
	arrived atomic.Int32
	release chan struct{}
}

func (b *barrierStore) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	data, err := b.EntityStore.Get(ctx, kind, id)
	if kind == domain.KindMessage {
		n := b.arrived.Add(1)
		if n == b.parties {
			close(b.release)
		}
		if n <= b.parties {
			<-b.release
		}
	}
	return data, err
}

// Параллельные переключения разными пользователями теряют инкремент: записи лайков две, счётчик 1.
func TestToggleLikeConcurrentLostUpdate(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	setup := newTestService(mem)
	msg, err := setup.PostMessage(ctx, alice, "root")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	store := &barrierStore{EntityStore: mem, parties: 2, release: make(chan struct{})}
	svc := newTestService(store)

	var wg sync.WaitGroup
	for _, s := range []domain.Session{alice, bob} {
		wg.Add(1)
		go func(s domain.Session) {
			defer wg.Done()
			if _, err := svc.ToggleLike(ctx, s, msg.ID, domain.LikeTargetMessage); err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
		}(s)
	}
	wg.Wait()

	likes, _ := domain.NewCollection[domain.Like](mem, domain.KindLike).List(ctx)
	stored, _ := domain.NewCollection[domain.Message](mem, domain.KindMessage).Get(ctx, msg.ID)
	if len(likes) != 2 {
		t.Fatalf("ожидали две записи лайков, получили %d", len(likes))
	}
	if stored.Likes != 1 {
		t.Fatalf("ожидали потерянный инкремент (счётчик 1), получили %d", stored.Likes)
	}
}

func TestBoardScenario(t *testing.T) {
	ctx := context.Background()
	store := repo.NewMemory()
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	ids := &seqIDs{}
	authSvc := auth.NewService(store, clock, ids, fixedCode("654321"), auth.DefaultOptions(), zerolog.Nop())
	board := discussion.NewService(store, clock, true, zerolog.Nop())
	svc := NewService(store, clock, ids, zerolog.Nop())

	code, err := authSvc.RequestOTP(ctx, "13800000000")
	if err != nil || len(code) != 6 {
		t.Fatalf("ожидали шестизначный код, получили %q, %v", code, err)
	}
	login, err := authSvc.Login(ctx, "13800000000", code)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if login.User.ID != "user:13800000000" {
		t.Fatalf("неожиданный пользователь: %+v", login.User)
	}
	session, err := authSvc.VerifySession(ctx, login.Token)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	msg, err := svc.PostMessage(ctx, session, "hello")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, err := board.List(ctx, session.UserID)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if items[0].ID != msg.ID || items[0].Likes != 0 {
		t.Fatalf("новое сообщение должно быть первым: %+v", items[0])
	}

	r1, err := svc.PostReply(ctx, session, msg.ID, msg.ID, "first")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	r1b, err := svc.PostReply(ctx, session, msg.ID, msg.ID, "second")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	r2, _ := svc.PostReply(ctx, session, r1.ID, msg.ID, "depth 2")
	r3, err := svc.PostReply(ctx, session, r2.ID, msg.ID, "depth 3")
	if err != nil {
		t.Fatalf("глубина 3 допустима: %v", err)
	}
	if _, err := svc.PostReply(ctx, session, r3.ID, msg.ID, "depth 4"); !errors.Is(err, domain.ErrDepthExceeded) {
		t.Fatalf("ожидали ErrDepthExceeded, получили %v", err)
	}

	if _, err := svc.ToggleLike(ctx, session, r1.ID, domain.LikeTargetReply); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, _ = board.List(ctx, session.UserID)
	top := items[0]
	if len(top.Replies) != 2 || top.Replies[0].ID != r1.ID || top.Replies[1].ID != r1b.ID {
		t.Fatalf("ответы должны идти от старых к новым: %+v", top.Replies)
	}
	if !top.Replies[0].LikedByUser || top.Replies[0].Likes != 1 {
		t.Fatalf("лайк должен отражаться в дереве: %+v", top.Replies[0])
	}
	if got := top.Replies[0].Replies[0].Replies[0].ID; got != r3.ID {
		t.Fatalf("ожидали ответ третьего уровня %s, получили %s", r3.ID, got)
	}
	anon, _ := board.List(ctx, "")
	if anon[0].Replies[0].LikedByUser {
		t.Fatalf("анонимный читатель не видит чужих лайков как своих")
	}
}

// failingPutStore отказывает в записи сообщений, остальные операции проходят.
type failingPutStore struct {
	domain.EntityStore
}

func (f failingPutStore) Put(ctx context.Context, kind domain.Kind, id string, data []byte) error {
	if kind == domain.KindMessage {
		return errors.New("disk full")
	}
	return f.EntityStore.Put(ctx, kind, id, data)
}

func TestPostReplyRollsBackWhenLinkFails(t *testing.T) {
	ctx := context.Background()
	mem := repo.NewMemory()
	msg, err := newTestService(mem).PostMessage(ctx, alice, "root")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	svc := newTestService(failingPutStore{EntityStore: mem})
	if _, err := svc.PostReply(ctx, bob, msg.ID, msg.ID, "reply"); err == nil {
		t.Fatalf("ожидали ошибку привязки")
	}
	records, err := mem.List(ctx, domain.KindReply)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("непривязанный ответ не должен оставаться в хранилище: %d", len(records))
	}
}
