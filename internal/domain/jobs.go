package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseManual — администратор запросил дайджест вручную.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseScheduled — дайджест запланирован по расписанию.
	DigestCauseScheduled DigestJobCause = "scheduled"
)

// DigestJob содержит информацию о задаче отправки дайджеста.
type DigestJob struct {
	ID          string         `json:"job_id,omitempty"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
	Attempt     int            `json:"attempt,omitempty"`
}

// DigestQueue описывает очередь задач на отправку дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type DigestAckFunc func(success bool) error
