package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

// Governor выполняет внешние вызовы с повторами. Политика зависит от класса
// ошибки: 429 ждёт до сброса лимита, 5xx ждёт экспоненциальную паузу,
// остальные ошибки не повторяются.
type Governor struct {
	log        zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// New создаёт Governor с указанной политикой повторов.
func New(logger zerolog.Logger, maxRetries int, baseDelay, maxDelay time.Duration) *Governor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Governor{
		log:        logger.With().Str("component", "governor").Logger(),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Execute выполняет call, повторяя его согласно политике. После исчерпания
// попыток возвращает domain.ErrRetryExhausted, оборачивающий последнюю ошибку.
func (g *Governor) Execute(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}

		wait, retryable := g.classify(lastErr, attempt)
		if !retryable {
			return lastErr
		}
		if attempt == g.maxRetries {
			break
		}

		g.log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Err(lastErr).
			Msg("повтор внешнего вызова")
		metrics.ObserveRetryWait(wait)
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrRetryExhausted, lastErr)
}

// classify возвращает паузу перед повтором и признак повторяемости ошибки.
func (g *Governor) classify(err error, attempt int) (time.Duration, bool) {
	var platformErr *domain.PlatformError
	if !errors.As(err, &platformErr) {
		return 0, false
	}
	switch {
	case platformErr.IsRateLimited():
		wait := time.Duration(attempt+1) * g.baseDelay
		if !platformErr.RateLimitReset.IsZero() {
			untilReset := platformErr.RateLimitReset.Sub(g.now())
			if untilReset > 0 {
				wait = untilReset
			}
		}
		if wait > g.maxDelay {
			wait = g.maxDelay
		}
		return wait, true
	case platformErr.IsServerError():
		return g.backoff(attempt), true
	default:
		return 0, false
	}
}

func (g *Governor) backoff(attempt int) time.Duration {
	wait := g.baseDelay << uint(attempt)
	if wait > g.maxDelay || wait <= 0 {
		wait = g.maxDelay
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
