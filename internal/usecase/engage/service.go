package engage

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

// Config ограничивает объём подготовки черновиков.
type Config struct {
	TopItems     int
	PoolItems    int
	LookbackDays int
}

// Service готовит черновики ответов: отбирает свежие посты, ранжирует их
// по бизнес-контексту и генерирует ответ в очередном стиле вовлечения.
type Service struct {
	accounts  domain.AccountRepo
	profiles  domain.ProfileRepo
	items     domain.ItemRepo
	replies   domain.ReplyRepo
	ranker    domain.Ranker
	generator domain.ReplyGenerator
	advisor   domain.KeywordAdvisor
	log       zerolog.Logger
	cfg       Config
	now       func() time.Time

	mu         sync.Mutex
	engagement map[int64]int
}

// NewService создаёт сервис подготовки контента.
func NewService(
	accounts domain.AccountRepo,
	profiles domain.ProfileRepo,
	items domain.ItemRepo,
	replies domain.ReplyRepo,
	ranker domain.Ranker,
	generator domain.ReplyGenerator,
	advisor domain.KeywordAdvisor,
	logger zerolog.Logger,
	cfg Config,
) *Service {
	if cfg.TopItems <= 0 {
		cfg.TopItems = 10
	}
	if cfg.PoolItems <= 0 {
		cfg.PoolItems = 50
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Service{
		accounts:   accounts,
		profiles:   profiles,
		items:      items,
		replies:    replies,
		ranker:     ranker,
		generator:  generator,
		advisor:    advisor,
		log:        logger.With().Str("component", "engage").Logger(),
		cfg:        cfg,
		now:        time.Now,
		engagement: make(map[int64]int),
	}
}

// nextEngagement выдаёт очередной стиль вовлечения аккаунта по кругу.
func (s *Service) nextEngagement(accountID int64) domain.EngagementType {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.engagement[accountID]
	s.engagement[accountID] = idx + 1
	return domain.EngagementTypes[idx%len(domain.EngagementTypes)]
}

// PrepareDrafts обрабатывает задачу из очереди: готовит черновики ответов
// на лучшие свежие посты аккаунта.
func (s *Service) PrepareDrafts(ctx context.Context, job domain.EngagementJob) error {
	account, err := s.accounts.GetAccount(ctx, job.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			s.log.Warn().Str("job_id", job.ID).Int64("account_id", job.AccountID).Msg("аккаунт задачи не найден, задача пропущена")
			return nil
		}
		return err
	}
	if account.Status != domain.AccountActive {
		s.log.Info().Int64("account_id", account.ID).Str("status", string(account.Status)).Msg("аккаунт неактивен, черновики не готовятся")
		return nil
	}

	profile, err := s.profiles.GetProfileByAccount(ctx, account.ID)
	if err != nil {
		return err
	}

	since := s.now().Add(-24 * time.Hour)
	pool, err := s.collectPool(ctx, account.ID, since)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		s.log.Info().Int64("account_id", account.ID).Msg("нет свежих постов для ответа")
		return nil
	}

	ranked, err := s.ranker.Rank(ctx, pool, profile.Summary)
	if err != nil {
		return fmt.Errorf("ранжирование постов аккаунта %d: %w", account.ID, err)
	}
	if len(ranked) > s.cfg.TopItems {
		ranked = ranked[:s.cfg.TopItems]
	}

	prepared := 0
	for _, item := range ranked {
		engagement := s.nextEngagement(account.ID)
		reply, err := s.generator.GenerateReply(ctx, item, engagement, profile.Summary)
		if err != nil {
			// Негодный вывод модели отбрасывается целиком: в черновики
			// не попадает ничего недоразобранного.
			metrics.GeneratedReplies.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("external_id", item.ExternalID).Msg("черновик не сгенерирован")
			continue
		}
		if err := s.replies.SaveGeneratedReply(ctx, reply); err != nil {
			return fmt.Errorf("сохранение черновика для %s: %w", item.ExternalID, err)
		}
		metrics.GeneratedReplies.WithLabelValues("success").Inc()
		prepared++
	}
	s.log.Info().Int64("account_id", account.ID).Int("prepared", prepared).Int("ranked", len(ranked)).Msg("черновики подготовлены")
	return nil
}

func (s *Service) collectPool(ctx context.Context, accountID int64, since time.Time) ([]domain.TrackedItem, error) {
	mentions, err := s.items.ListRecentItems(ctx, accountID, domain.ItemKindMention, since, s.cfg.PoolItems)
	if err != nil {
		return nil, err
	}
	keywords, err := s.items.ListRecentItems(ctx, accountID, domain.ItemKindKeyword, since, s.cfg.PoolItems)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(mentions)+len(keywords))
	pool := make([]domain.TrackedItem, 0, len(mentions)+len(keywords))
	for _, item := range append(mentions, keywords...) {
		if _, dup := seen[item.ExternalID]; dup {
			continue
		}
		seen[item.ExternalID] = struct{}{}
		pool = append(pool, item)
		if len(pool) >= s.cfg.PoolItems {
			break
		}
	}
	return pool, nil
}

// RefineKeywords сравнивает находки по ключевым словам за окно наблюдения
// и сохраняет предложенные замены для слов без находок. Предложения не
// применяются автоматически: решение остаётся за пользователем.
func (s *Service) RefineKeywords(ctx context.Context, userID int64) error {
	accounts, err := s.accounts.ListActiveAccountsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("аккаунты пользователя %d: %w", userID, err)
	}

	var firstErr error
	for _, account := range accounts {
		if err := s.refineAccount(ctx, account); err != nil {
			s.log.Error().Err(err).Int64("account_id", account.ID).Msg("уточнение ключевых слов не удалось")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) refineAccount(ctx context.Context, account domain.Account) error {
	profile, err := s.profiles.GetProfileByAccount(ctx, account.ID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil
		}
		return err
	}
	if len(profile.Keywords) == 0 {
		return nil
	}

	since := s.now().AddDate(0, 0, -s.cfg.LookbackDays)
	hits, err := s.items.CountKeywordHits(ctx, account.ID, since)
	if err != nil {
		return fmt.Errorf("статистика находок аккаунта %d: %w", account.ID, err)
	}

	var dead []string
	for _, keyword := range profile.Keywords {
		if hits[keyword] == 0 {
			dead = append(dead, keyword)
		}
	}
	if len(dead) == 0 {
		return nil
	}

	suggestions, err := s.advisor.SuggestKeywords(ctx, dead, hits, profile.Summary)
	if err != nil {
		return fmt.Errorf("подбор замен для аккаунта %d: %w", account.ID, err)
	}
	if len(suggestions) == 0 {
		return nil
	}
	if err := s.profiles.UpdateProfileSuggestions(ctx, profile.ID, suggestions); err != nil {
		return fmt.Errorf("сохранение предложений профиля %d: %w", profile.ID, err)
	}
	s.log.Info().Int64("account_id", account.ID).Strs("dead", dead).Strs("suggestions", suggestions).Msg("предложены замены ключевых слов")
	return nil
}
