package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/usecase/ingest"
)

const (
	mentionsSchedule = "0 0 * * *"
	keywordsSchedule = "5 0 * * *"
	timelineSchedule = "*/30 * * * *"
	refineSchedule   = "30 0 * * *"
)

// Ingester выгружает посты платформы для пользователя.
type Ingester interface {
	FetchMentionsForUser(ctx context.Context, userID int64) []ingest.AccountReport
	FetchKeywordsForUser(ctx context.Context, userID int64) []ingest.AccountReport
	FetchTimelineForUser(ctx context.Context, userID int64) []ingest.AccountReport
}

// Refiner уточняет ключевые слова пользователя.
type Refiner interface {
	RefineKeywords(ctx context.Context, userID int64) error
}

// JobRunner регистрирует задачи в расписании.
type JobRunner interface {
	Register(job domain.Job) error
	Unregister(jobID string)
}

// Planner собирает набор задач каждого пользователя. Расписания
// вычисляются в часовом поясе пользователя; сбой одной задачи никогда
// не затрагивает задачи других пользователей.
type Planner struct {
	ingester  Ingester
	refiner   Refiner
	accounts  domain.AccountRepo
	queue     domain.EngagementQueue
	log       zerolog.Logger
	defaultTZ string
}

// NewPlanner создаёт планировщик задач.
func NewPlanner(
	ingester Ingester,
	refiner Refiner,
	accounts domain.AccountRepo,
	queue domain.EngagementQueue,
	logger zerolog.Logger,
	defaultTZ string,
) *Planner {
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	return &Planner{
		ingester:  ingester,
		refiner:   refiner,
		accounts:  accounts,
		queue:     queue,
		log:       logger.With().Str("component", "schedule").Logger(),
		defaultTZ: defaultTZ,
	}
}

func (p *Planner) timezoneFor(user domain.User) string {
	tz := user.Timezone
	if tz == "" {
		return p.defaultTZ
	}
	if _, err := time.LoadLocation(tz); err != nil {
		p.log.Warn().Int64("user_id", user.ID).Str("tz", tz).Msg("неизвестный часовой пояс, используется пояс по умолчанию")
		return p.defaultTZ
	}
	return tz
}

// BuildJobs возвращает именованный набор задач пользователя.
func (p *Planner) BuildJobs(user domain.User) []domain.Job {
	tz := p.timezoneFor(user)
	userID := user.ID
	return []domain.Job{
		{
			ID:       fmt.Sprintf("fetch-mentions-%d", userID),
			Schedule: mentionsSchedule,
			Timezone: tz,
			Handler: func(ctx context.Context) error {
				return reportsError(p.ingester.FetchMentionsForUser(ctx, userID))
			},
		},
		{
			ID:       fmt.Sprintf("fetch-keywords-%d", userID),
			Schedule: keywordsSchedule,
			Timezone: tz,
			Handler: func(ctx context.Context) error {
				err := reportsError(p.ingester.FetchKeywordsForUser(ctx, userID))
				// Черновики готовятся и по частичной выгрузке.
				if enqueueErr := p.enqueueEngagement(ctx, userID); enqueueErr != nil {
					return errors.Join(err, enqueueErr)
				}
				return err
			},
		},
		{
			ID:       fmt.Sprintf("fetch-timeline-%d", userID),
			Schedule: timelineSchedule,
			Timezone: tz,
			Handler: func(ctx context.Context) error {
				return reportsError(p.ingester.FetchTimelineForUser(ctx, userID))
			},
		},
		{
			ID:       fmt.Sprintf("refine-keywords-%d", userID),
			Schedule: refineSchedule,
			Timezone: tz,
			Handler: func(ctx context.Context) error {
				return p.refiner.RefineKeywords(ctx, userID)
			},
		},
	}
}

// enqueueEngagement ставит задачу подготовки черновиков по каждому
// активному аккаунту пользователя.
func (p *Planner) enqueueEngagement(ctx context.Context, userID int64) error {
	accounts, err := p.accounts.ListActiveAccountsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("аккаунты пользователя %d: %w", userID, err)
	}
	var firstErr error
	for _, account := range accounts {
		job := domain.EngagementJob{
			ID:          uuid.NewString(),
			UserID:      userID,
			AccountID:   account.ID,
			Cause:       domain.EngagementCauseScheduled,
			RequestedAt: time.Now().UTC(),
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			p.log.Error().Err(err).Int64("account_id", account.ID).Msg("не удалось поставить задачу в очередь")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SyncJobs регистрирует задачи всех пользователей из реестра.
func (p *Planner) SyncJobs(runner JobRunner, registry *Registry) error {
	var firstErr error
	for _, user := range registry.Snapshot() {
		for _, job := range p.BuildJobs(user) {
			if err := runner.Register(job); err != nil {
				p.log.Error().Err(err).Str("job", job.ID).Msg("задача не зарегистрирована")
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

func reportsError(reports []ingest.AccountReport) error {
	var errs []error
	for _, report := range reports {
		if report.Err != nil {
			errs = append(errs, fmt.Errorf("аккаунт %d: %w", report.AccountID, report.Err))
		}
	}
	return errors.Join(errs...)
}
