package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

const sweepGuardKey = "tokens:sweep"

// Executor выполняет внешний вызов с повторами.
type Executor interface {
	Execute(ctx context.Context, op string, call func(ctx context.Context) error) error
}

// Service отвечает за жизненный цикл OAuth2-токенов аккаунтов.
// Обновления одного аккаунта сериализуются: конкурирующие вызовы
// не тратят одноразовый refresh-токен дважды.
type Service struct {
	accounts domain.AccountRepo
	platform domain.Platform
	executor Executor
	notifier domain.Notifier
	cache    domain.Cache
	log      zerolog.Logger

	refreshBuffer time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService создаёт сервис токенов.
func NewService(
	accounts domain.AccountRepo,
	platform domain.Platform,
	executor Executor,
	notifier domain.Notifier,
	cache domain.Cache,
	logger zerolog.Logger,
	refreshBuffer, sweepInterval time.Duration,
) *Service {
	if refreshBuffer <= 0 {
		refreshBuffer = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Minute
	}
	return &Service{
		accounts:      accounts,
		platform:      platform,
		executor:      executor,
		notifier:      notifier,
		cache:         cache,
		log:           logger.With().Str("component", "tokens").Logger(),
		refreshBuffer: refreshBuffer,
		sweepInterval: sweepInterval,
		now:           time.Now,
		locks:         make(map[int64]*sync.Mutex),
	}
}

func (s *Service) accountLock(accountID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

// EnsureValidAccessToken возвращает аккаунт с access-токеном, действительным
// ещё минимум refreshBuffer. При необходимости токен обновляется; отклонённый
// refresh-токен переводит аккаунт в PAUSED.
func (s *Service) EnsureValidAccessToken(ctx context.Context, accountID int64) (domain.Account, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if account.Status != domain.AccountActive {
		return domain.Account{}, fmt.Errorf("аккаунт %d в статусе %s: %w", account.ID, account.Status, domain.ErrReauthenticationRequired)
	}
	// Пустой access-токен — незавершённая привязка: refresh не запускается,
	// даже если refresh-токен на месте.
	if account.AccessToken == "" {
		return domain.Account{}, domain.ErrCredentialMissing
	}

	expiresAt := time.Unix(account.TokenExpiresAt, 0)
	if expiresAt.Sub(s.now()) > s.refreshBuffer {
		return account, nil
	}
	return s.refresh(ctx, account)
}

func (s *Service) refresh(ctx context.Context, account domain.Account) (domain.Account, error) {
	if account.RefreshToken == "" {
		return domain.Account{}, domain.ErrCredentialMissing
	}

	var grant domain.TokenGrant
	err := s.executor.Execute(ctx, "oauth2_refresh", func(ctx context.Context) error {
		var callErr error
		grant, callErr = s.platform.RefreshOAuthToken(ctx, account.RefreshToken)
		return callErr
	})
	if err != nil {
		var platformErr *domain.PlatformError
		if errors.As(err, &platformErr) && platformErr.IsInvalidGrant() {
			return domain.Account{}, s.pauseAccount(ctx, account)
		}
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return domain.Account{}, fmt.Errorf("%w: %w", domain.ErrTokenRefreshFailed, err)
	}

	// Провайдер не всегда ротирует refresh-токен: пустой означает прежний.
	refreshToken := grant.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshToken
	}
	expiresAt := s.now().Add(time.Duration(grant.ExpiresIn) * time.Second).Unix()
	if err := s.accounts.UpdateAccountTokens(ctx, account.ID, grant.AccessToken, refreshToken, expiresAt); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		return domain.Account{}, fmt.Errorf("сохранение токенов аккаунта %d: %w", account.ID, err)
	}
	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	s.log.Info().Int64("account_id", account.ID).Msg("access-токен обновлён")

	account.AccessToken = grant.AccessToken
	account.RefreshToken = refreshToken
	account.TokenExpiresAt = expiresAt
	return account, nil
}

func (s *Service) pauseAccount(ctx context.Context, account domain.Account) error {
	metrics.TokenRefreshTotal.WithLabelValues("invalid_grant").Inc()
	if err := s.accounts.SetAccountStatus(ctx, account.ID, domain.AccountPaused); err != nil {
		return fmt.Errorf("перевод аккаунта %d в PAUSED: %w", account.ID, err)
	}
	metrics.AccountsPaused.Inc()
	s.log.Warn().Int64("account_id", account.ID).Msg("refresh-токен отклонён, аккаунт переведён в PAUSED")
	if s.notifier != nil {
		if err := s.notifier.NotifyReauthRequired(ctx, account); err != nil {
			s.log.Error().Err(err).Int64("account_id", account.ID).Msg("не удалось уведомить операторов")
		}
	}
	return fmt.Errorf("аккаунт %d: %w", account.ID, domain.ErrReauthenticationRequired)
}

// SweepSoonExpiring проактивно обновляет токены, истекающие в ближайший
// интервал. Redis-замок не даёт нескольким экземплярам планировщика
// обновлять одни и те же аккаунты одновременно.
func (s *Service) SweepSoonExpiring(ctx context.Context) error {
	run := func() error {
		deadline := s.now().Add(s.sweepInterval + s.refreshBuffer)
		accounts, err := s.accounts.ListExpiringAccounts(ctx, deadline)
		if err != nil {
			return fmt.Errorf("выборка истекающих аккаунтов: %w", err)
		}
		if len(accounts) == 0 {
			return nil
		}

		var (
			wg                sync.WaitGroup
			mu                sync.Mutex
			refreshed, failed int
		)
		for _, account := range accounts {
			wg.Add(1)
			go func(accountID int64) {
				defer wg.Done()
				_, err := s.EnsureValidAccessToken(ctx, accountID)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
					return
				}
				refreshed++
			}(account.ID)
		}
		wg.Wait()
		s.log.Info().Int("refreshed", refreshed).Int("failed", failed).Msg("проактивное обновление токенов завершено")
		return nil
	}

	if s.cache == nil {
		return run()
	}
	return s.cache.Once(sweepGuardKey, s.sweepInterval/2, run)
}
