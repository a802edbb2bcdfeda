package domain

import (
	"context"
	"time"
)

// Job — именованная планируемая единица: cron-выражение вычисляется
// в часовом поясе пользователя. Набор задач пересобирается при старте
// планировщика, состояние задач не персистится.
type Job struct {
	ID       string
	Schedule string
	Timezone string
	Handler  func(ctx context.Context) error
}

// EngagementJobCause описывает источник задачи генерации контента.
type EngagementJobCause string

const (
	// EngagementCauseScheduled — задача поставлена по расписанию.
	EngagementCauseScheduled EngagementJobCause = "scheduled"
	// EngagementCauseManual — задача поставлена вручную.
	EngagementCauseManual EngagementJobCause = "manual"
)

// EngagementJob — задача воркеру: отранжировать свежие посты аккаунта
// и подготовить черновики ответов.
type EngagementJob struct {
	ID          string             `json:"job_id"`
	UserID      int64              `json:"user_id"`
	AccountID   int64              `json:"account_id"`
	Cause       EngagementJobCause `json:"cause"`
	RequestedAt time.Time          `json:"requested_at"`
}

// EngagementAckFunc подтверждает успешную обработку или возвращает задачу в очередь.
type EngagementAckFunc func(success bool) error

// EngagementQueue описывает очередь задач генерации контента.
type EngagementQueue interface {
	Enqueue(ctx context.Context, job EngagementJob) error
	Receive(ctx context.Context) (EngagementJob, EngagementAckFunc, error)
}

// EngagementJobStatusRepo отслеживает доставку задач при at-least-once семантике.
type EngagementJobStatusRepo interface {
	// EnsureEngagementJob регистрирует попытку обработки и возвращает признак
	// уже состоявшейся доставки и номер текущей попытки.
	EnsureEngagementJob(ctx context.Context, jobID string) (delivered bool, attempt int, err error)
	// MarkEngagementJobDelivered помечает задачу как окончательно доставленную.
	MarkEngagementJobDelivered(ctx context.Context, jobID string) error
}
