package domain

// MaxTextLength ограничивает длину текста сообщения и ответа (в символах).
const MaxTextLength = 500

// MaxReplyDepth — максимальная глубина ответа относительно корневого сообщения.
const MaxReplyDepth = 3

// Message описывает корневое сообщение на доске.
type Message struct {
	ID          string   `json:"id"`
	UserID      string   `json:"userId"`
	PhoneMasked string   `json:"phoneMasked"`
	Text        string   `json:"text"`
	TS          int64    `json:"ts"`
	Likes       int      `json:"likes"`
	ReplyIDs    []string `json:"replyIds"`
}

// Reply описывает ответ на сообщение или на другой ответ.
type Reply struct {
	ID          string   `json:"id"`
	MessageID   string   `json:"messageId"`
	ParentID    string   `json:"parentId"`
	UserID      string   `json:"userId"`
	PhoneMasked string   `json:"phoneMasked"`
	Text        string   `json:"text"`
	TS          int64    `json:"ts"`
	Likes       int      `json:"likes"`
	ReplyIDs    []string `json:"replyIds"`
}

// LikeTarget определяет тип объекта лайка.
type LikeTarget string

const (
	LikeTargetMessage LikeTarget = "message"
	LikeTargetReply   LikeTarget = "reply"
)

// Valid сообщает, известен ли тип цели.
func (t LikeTarget) Valid() bool {
	return t == LikeTargetMessage || t == LikeTargetReply
}

// Like фиксирует отметку пользователя. Наличие записи для пары (UserID, TargetID) означает «лайкнуто».
type Like struct {
	ID         string     `json:"id"`
	TargetID   string     `json:"targetId"`
	TargetType LikeTarget `json:"targetType"`
	UserID     string     `json:"userId"`
	TS         int64      `json:"ts"`
}

// LikeKey возвращает ключ записи лайка. Один ключ на пару пользователь/цель.
func LikeKey(userID, targetID string) string {
	return userID + "|" + targetID
}

// AuthUser — пользователь, прошедший проверку кода.
type AuthUser struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
}

// UserIDForPhone строит идентификатор пользователя по номеру телефона.
func UserIDForPhone(phone string) string {
	return "user:" + phone
}

// OTPEntry хранит выданный одноразовый код.
type OTPEntry struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Session описывает выданную сессию.
type Session struct {
	UserID   string `json:"userId"`
	Phone    string `json:"phone"`
	IssuedAt int64  `json:"ts"`
}

// AuthStateID — ключ единственной записи состояния авторизации.
const AuthStateID = "auth-singleton"

// AuthState — синглтон с кодами, сессиями и отметками лимита запросов.
type AuthState struct {
	ID         string              `json:"id"`
	OTPs       map[string]OTPEntry `json:"otps"`
	Sessions   map[string]Session  `json:"sessions"`
	RateLimits map[string]int64    `json:"rateLimits"`
}

// NewAuthState возвращает пустое состояние.
func NewAuthState() AuthState {
	return AuthState{
		ID:         AuthStateID,
		OTPs:       map[string]OTPEntry{},
		Sessions:   map[string]Session{},
		RateLimits: map[string]int64{},
	}
}

// Provider — способ доставки дайджеста.
type Provider string

const (
	ProviderMock     Provider = "mock"
	ProviderHTTP     Provider = "http"
	ProviderTelegram Provider = "telegram"
)

// SendStatus — итог попытки доставки.
type SendStatus string

const (
	SendStatusSuccess SendStatus = "success"
	SendStatusFailure SendStatus = "failure"
)

// MaxSendLogs — сколько последних записей журнала отправки хранится.
const MaxSendLogs = 10

// SendLog — запись журнала отправки дайджеста.
type SendLog struct {
	TS              int64      `json:"ts"`
	MessageCount    int        `json:"messageCount"`
	ReplyCount      int        `json:"replyCount"`
	LikeCount       int        `json:"likeCount"`
	Status          SendStatus `json:"status"`
	ResponseSnippet string     `json:"responseSnippet"`
}

// SettingsID — ключ единственной записи настроек.
const SettingsID = "app-settings"

// Settings хранит параметры доставки дайджеста.
type Settings struct {
	ID         string    `json:"id"`
	Recipient  string    `json:"recipient"`
	Provider   Provider  `json:"provider"`
	APIURL     string    `json:"apiUrl"`
	APIKey     string    `json:"apiKey"`
	Timezone   string    `json:"timezone,omitempty"`
	LastSentTS int64     `json:"lastSentTs"`
	SendLogs   []SendLog `json:"sendLogs"`
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{ID: SettingsID, Provider: ProviderMock, SendLogs: []SendLog{}}
}

// SettingsPatch — частичное обновление настроек, nil означает «не менять».
type SettingsPatch struct {
	Recipient *string   `json:"recipient,omitempty"`
	Provider  *Provider `json:"provider,omitempty"`
	APIURL    *string   `json:"apiUrl,omitempty"`
	APIKey    *string   `json:"apiKey,omitempty"`
	Timezone  *string   `json:"timezone,omitempty"`
}
