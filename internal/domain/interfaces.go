package domain

import (
	"context"
	"time"
)

// Kind — имя коллекции в хранилище сущностей.
type Kind string

const (
	KindMessage  Kind = "message"
	KindReply    Kind = "reply"
	KindLike     Kind = "like"
	KindAuth     Kind = "auth"
	KindSettings Kind = "settings"
)

// Record — сериализованная запись коллекции.
type Record struct {
	ID   string
	Data []byte
}

// EntityStore — хранилище сущностей по типу и идентификатору.
// Операции атомарны по одному ключу, межключевых транзакций нет.
type EntityStore interface {
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, kind Kind, id string) ([]byte, error)
	Put(ctx context.Context, kind Kind, id string, data []byte) error
	Delete(ctx context.Context, kind Kind, id string) error
	// List возвращает все записи коллекции, порядок не гарантируется.
	List(ctx context.Context, kind Kind) ([]Record, error)
	// EnsureSeeded заполняет коллекцию один раз, если в ней нет ни одной записи.
	EnsureSeeded(ctx context.Context, kind Kind, seed []Record) error
}

// Clock возвращает текущее время.
type Clock interface {
	Now() time.Time
}

// SystemClock использует time.Now.
type SystemClock struct{}

// Now реализует Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// IDGenerator выдаёт непредсказуемые идентификаторы и токены.
type IDGenerator interface {
	NewID() string
}

// CodeGenerator выдаёт шестизначные коды.
type CodeGenerator interface {
	NewCode() string
}

// DeliveryTarget описывает адресата исходящего канала.
type DeliveryTarget struct {
	Endpoint  string
	Token     string
	Recipient string
}

// DigestPayload — содержимое дайджеста.
type DigestPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// DeliveryReceipt — ответ исходящего канала.
type DeliveryReceipt struct {
	OK         bool
	StatusCode int
}

// Notifier отправляет дайджест во внешний канал. Вызывающий ограничивает время через ctx.
type Notifier interface {
	Send(ctx context.Context, target DeliveryTarget, payload DigestPayload) (DeliveryReceipt, error)
}
