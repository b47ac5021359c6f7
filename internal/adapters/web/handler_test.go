package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liuyan-board/internal/adapters/repo"
	"liuyan-board/internal/domain"
	httpinfra "liuyan-board/internal/infra/http"
	"liuyan-board/internal/usecase/auth"
	"liuyan-board/internal/usecase/digest"
	"liuyan-board/internal/usecase/discussion"
	"liuyan-board/internal/usecase/engagement"
	"liuyan-board/internal/usecase/settings"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

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

type queueStub struct {
	jobs []domain.DigestJob
}

func (q *queueStub) Enqueue(_ context.Context, job domain.DigestJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *queueStub) Receive(context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	return domain.DigestJob{}, nil, errors.New("not implemented")
}

type testAPI struct {
	base string
	jobs *queueStub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repo.NewMemory()
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	ids := &seqIDs{}
	log := zerolog.Nop()

	authSvc := auth.NewService(store, clock, ids, fixedCode("123456"), auth.DefaultOptions(), log)
	board := discussion.NewService(store, clock, false, log)
	engage := engagement.NewService(store, clock, ids, log)
	settingsSvc := settings.NewService(store, log)
	batcher := digest.NewBatcher(store, settingsSvc, nil, clock, time.UTC, digest.DefaultOptions(), log)
	jobs := &queueStub{}

	server := httpinfra.NewServer(log, nil)
	NewHandler(authSvc, board, engage, settingsSvc, batcher, jobs, log).Register(server.Router)
	srv := httptest.NewServer(server.Router)
	t.Cleanup(srv.Close)
	return &testAPI{base: srv.URL, jobs: jobs}
}

func (a *testAPI) call(t *testing.T, method, path, token string, body any, out any) (int, httpinfra.Envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.base+path, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("ответ не в формате конверта: %v", err)
	}
	if out != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return resp.StatusCode, httpinfra.Envelope{Success: raw.Success, Error: raw.Error}
}

func (a *testAPI) login(t *testing.T, phone string) string {
	t.Helper()
	var otp struct {
		DemoCode string `json:"demoCode"`
	}
	if code, env := a.call(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone": phone}, &otp); code != http.StatusOK {
		t.Fatalf("request-otp: %d %s", code, env.Error)
	}
	var res auth.LoginResult
	if code, env := a.call(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone": phone, "code": otp.DemoCode}, &res); code != http.StatusOK {
		t.Fatalf("verify-otp: %d %s", code, env.Error)
	}
	if res.User.ID != "user:"+phone || res.Token == "" {
		t.Fatalf("неожиданный результат входа: %+v", res)
	}
	return res.Token
}

func TestAuthFlowErrors(t *testing.T) {
	api := newTestAPI(t)
	if code, env := api.call(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone": "123"}, nil); code != http.StatusBadRequest || env.Success {
		t.Fatalf("ожидали 400, получили %d", code)
	}
	api.call(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone": "13800000000"}, nil)
	if code, _ := api.call(t, http.MethodPost, "/api/auth/request-otp", "", map[string]string{"phone": "13800000000"}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("ожидали 429, получили %d", code)
	}
	if code, _ := api.call(t, http.MethodPost, "/api/auth/verify-otp", "", map[string]string{"phone": "13800000000", "code": "000000"}, nil); code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для неверного кода, получили %d", code)
	}
}

func TestWritesRequireSession(t *testing.T) {
	api := newTestAPI(t)
	if code, _ := api.call(t, http.MethodPost, "/api/messages", "", map[string]string{"text": "hi"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", code)
	}
	if code, _ := api.call(t, http.MethodPost, "/api/messages", "forged", map[string]string{"text": "hi"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401 для чужого токена, получили %d", code)
	}
	if code, _ := api.call(t, http.MethodGet, "/api/messages", "", nil, nil); code != http.StatusOK {
		t.Fatalf("чтение ленты доступно анонимно, получили %d", code)
	}
}

func TestBoardOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "13800000000")

	var msg domain.Message
	if code, env := api.call(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "hello"}, &msg); code != http.StatusCreated {
		t.Fatalf("post message: %d %s", code, env.Error)
	}
	if msg.PhoneMasked != "138****0000" {
		t.Fatalf("неожиданная маска: %q", msg.PhoneMasked)
	}

	parent := msg.ID
	for level := 1; level <= domain.MaxReplyDepth; level++ {
		var r domain.Reply
		code, env := api.call(t, http.MethodPost, "/api/replies", token, map[string]string{"messageId": msg.ID, "parentId": parent, "text": "reply"}, &r)
		if code != http.StatusCreated {
			t.Fatalf("reply level %d: %d %s", level, code, env.Error)
		}
		parent = r.ID
	}
	if code, _ := api.call(t, http.MethodPost, "/api/replies", token, map[string]string{"messageId": msg.ID, "parentId": parent, "text": "deep"}, nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("ожидали 422, получили %d", code)
	}

	var like engagement.LikeResult
	if code, _ := api.call(t, http.MethodPut, "/api/likes/"+msg.ID, token, map[string]string{"type": "message"}, &like); code != http.StatusOK || !like.Liked || like.Count != 1 {
		t.Fatalf("лайк не поставлен: %d %+v", code, like)
	}
	if code, _ := api.call(t, http.MethodPut, "/api/likes/"+msg.ID, token, map[string]string{"type": "post"}, nil); code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для неизвестного типа, получили %d", code)
	}
	if code, _ := api.call(t, http.MethodPut, "/api/likes/missing", token, map[string]string{"type": "reply"}, nil); code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", code)
	}

	var list struct {
		Items []discussion.MessageNode `json:"items"`
	}
	api.call(t, http.MethodGet, "/api/messages", token, nil, &list)
	if len(list.Items) != 1 || !list.Items[0].LikedByUser || len(list.Items[0].Replies) != 1 {
		t.Fatalf("неожиданная лента: %+v", list.Items)
	}
	api.call(t, http.MethodGet, "/api/messages", "", nil, &list)
	if list.Items[0].LikedByUser {
		t.Fatalf("анонимный читатель не видит лайков как своих")
	}

	if code, _ := api.call(t, http.MethodDelete, "/api/auth/session", token, nil, nil); code != http.StatusOK {
		t.Fatalf("logout: %d", code)
	}
	if code, _ := api.call(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "after"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("после выхода токен недействителен, получили %d", code)
	}
}

func TestSettingsAndDigestOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	if code, _ := api.call(t, http.MethodPost, "/api/send-weekly", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("без получателя ожидали 400, получили %d", code)
	}
	if code, _ := api.call(t, http.MethodPost, "/api/settings/email", "", map[string]string{"recipient": "bad"}, nil); code != http.StatusBadRequest {
		t.Fatalf("ожидали 400 для неверного адреса, получили %d", code)
	}
	var st domain.Settings
	code, _ := api.call(t, http.MethodPost, "/api/settings/email", "", map[string]string{"recipient": "admin@example.com", "apiKey": "secret"}, &st)
	if code != http.StatusOK || st.Recipient != "admin@example.com" || st.APIKey == "secret" {
		t.Fatalf("неожиданные настройки: %d %+v", code, st)
	}

	token := api.login(t, "13900000000")
	api.call(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "digest me"}, nil)

	var res digest.Result
	if code, _ := api.call(t, http.MethodPost, "/api/send-weekly", "", nil, &res); code != http.StatusOK || res.SentCount != 1 {
		t.Fatalf("ожидали отправку одного сообщения: %d %+v", code, res)
	}
	api.call(t, http.MethodGet, "/api/settings/email", "", nil, &st)
	if len(st.SendLogs) != 1 || st.SendLogs[0].Status != domain.SendStatusSuccess {
		t.Fatalf("ожидали запись в журнале: %+v", st.SendLogs)
	}

	var queued queuedResponse
	if code, _ := api.call(t, http.MethodPost, "/api/send-weekly?async=true", "", nil, &queued); code != http.StatusAccepted || !queued.Queued {
		t.Fatalf("ожидали постановку в очередь: %d %+v", code, queued)
	}
	if len(api.jobs.jobs) != 1 || api.jobs.jobs[0].Cause != domain.DigestCauseManual {
		t.Fatalf("неожиданные задачи: %+v", api.jobs.jobs)
	}
}

type hangingNotifier struct{}

func (hangingNotifier) Send(ctx context.Context, _ domain.DeliveryTarget, _ domain.DigestPayload) (domain.DeliveryReceipt, error) {
	<-ctx.Done()
	return domain.DeliveryReceipt{}, ctx.Err()
}

func TestSendWeeklyReportsWhenEndpointHangs(t *testing.T) {
	store := repo.NewMemory()
	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	log := zerolog.Nop()
	settingsSvc := settings.NewService(store, log)
	opts := digest.Options{MaxAttempts: 2, RetryDelay: 100 * time.Millisecond, Timeout: 300 * time.Millisecond}
	batcher := digest.NewBatcher(store, settingsSvc, map[domain.Provider]domain.Notifier{domain.ProviderHTTP: hangingNotifier{}}, clock, time.UTC, opts, log)
	authSvc := auth.NewService(store, clock, &seqIDs{}, fixedCode("123456"), auth.DefaultOptions(), log)

	server := httpinfra.NewServer(log, nil, httpinfra.WithRequestTimeout(opts.Budget()+time.Second))
	if server.WriteTimeout() <= opts.Budget() {
		t.Fatalf("WriteTimeout %v не покрывает доставку %v", server.WriteTimeout(), opts.Budget())
	}
	NewHandler(authSvc, discussion.NewService(store, clock, false, log), engagement.NewService(store, clock, &seqIDs{}, log), settingsSvc, batcher, nil, log).Register(server.Router)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = server.Serve(l) }()
	t.Cleanup(func() { _ = server.Shutdown(context.Background()) })
	api := &testAPI{base: "http://" + l.Addr().String()}

	api.call(t, http.MethodPost, "/api/settings/email", "", map[string]string{
		"recipient": "admin@example.com",
		"provider":  "http",
		"apiUrl":    "https://mail.example.com/send",
	}, nil)
	token := api.login(t, "13800000000")
	api.call(t, http.MethodPost, "/api/messages", token, map[string]string{"text": "hello"}, nil)

	var res digest.Result
	code, env := api.call(t, http.MethodPost, "/api/send-weekly", "", nil, &res)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("ожидали отчёт, получили %d %q", code, env.Error)
	}
	if !strings.Contains(res.Status, "HTTP send failed (attempt 2)") {
		t.Fatalf("отчёт должен описывать неудачу: %q", res.Status)
	}
	st, _ := settingsSvc.Get(context.Background())
	if len(st.SendLogs) != 1 || st.SendLogs[0].Status != domain.SendStatusFailure {
		t.Fatalf("ожидали запись о неудаче: %+v", st.SendLogs)
	}
}
