package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

const defaultJobTimeout = 10 * time.Minute

// Runner исполняет набор задач по cron-расписанию. Каждая задача выполняется
// в часовом поясе своего пользователя, паника внутри обработчика не роняет
// остальные задачи.
type Runner struct {
	cron       *cron.Cron
	log        zerolog.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewRunner создаёт исполнитель задач.
func NewRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		cron:       cron.New(),
		log:        logger.With().Str("component", "cron").Logger(),
		jobTimeout: defaultJobTimeout,
		entries:    make(map[string]cron.EntryID),
	}
}

// Register добавляет задачу в расписание. Повторная регистрация того же ID
// заменяет предыдущую задачу.
func (r *Runner) Register(job domain.Job) error {
	if job.Handler == nil {
		return fmt.Errorf("cron: job %s has no handler", job.ID)
	}
	spec := job.Schedule
	if job.Timezone != "" {
		spec = "CRON_TZ=" + job.Timezone + " " + job.Schedule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[job.ID]; ok {
		r.cron.Remove(old)
		delete(r.entries, job.ID)
	}
	entryID, err := r.cron.AddFunc(spec, r.wrap(job))
	if err != nil {
		return fmt.Errorf("cron: schedule job %s (%s): %w", job.ID, spec, err)
	}
	r.entries[job.ID] = entryID
	r.log.Info().Str("job", job.ID).Str("spec", spec).Msg("задача запланирована")
	return nil
}

// Unregister убирает задачу из расписания.
func (r *Runner) Unregister(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entryID, ok := r.entries[jobID]; ok {
		r.cron.Remove(entryID)
		delete(r.entries, jobID)
		r.log.Info().Str("job", jobID).Msg("задача снята с расписания")
	}
}

func (r *Runner) wrap(job domain.Job) func() {
	return func() {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.JobRuns.WithLabelValues(job.ID, "panic").Inc()
				r.log.Error().Str("job", job.ID).Interface("panic", rec).Msg("паника в задаче")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job.Handler(ctx); err != nil {
			metrics.JobRuns.WithLabelValues(job.ID, "error").Inc()
			r.log.Error().Str("job", job.ID).Dur("took", time.Since(start)).Err(err).Msg("задача завершилась с ошибкой")
			return
		}
		metrics.JobRuns.WithLabelValues(job.ID, "success").Inc()
		r.log.Info().Str("job", job.ID).Dur("took", time.Since(start)).Msg("задача выполнена")
	}
}

// Start запускает планировщик.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info().Msg("планировщик запущен")
}

// Stop останавливает планировщик и дожидается выполняющихся задач.
func (r *Runner) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
