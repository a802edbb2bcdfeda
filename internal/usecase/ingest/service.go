package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

// TokenSource выдаёт аккаунт с действительным access-токеном.
type TokenSource interface {
	EnsureValidAccessToken(ctx context.Context, accountID int64) (domain.Account, error)
}

// Executor выполняет внешний вызов с повторами.
type Executor interface {
	Execute(ctx context.Context, op string, call func(ctx context.Context) error) error
}

// Config ограничивает объём одной выгрузки.
type Config struct {
	MaxPages       int
	MaxItems       int
	LookbackDays   int
	ViralThreshold int
}

// Service выгружает посты платформы: упоминания, находки по ключевым
// словам и собственную ленту аккаунта. Ошибка одного аккаунта не
// прерывает обход остальных.
type Service struct {
	accounts    domain.AccountRepo
	profiles    domain.ProfileRepo
	items       domain.ItemRepo
	engagements domain.EngagementRepo
	platform    domain.Platform
	tokens      TokenSource
	executor    Executor
	log         zerolog.Logger
	cfg         Config
	now         func() time.Time
}

// NewService создаёт сервис выгрузки.
func NewService(
	accounts domain.AccountRepo,
	profiles domain.ProfileRepo,
	items domain.ItemRepo,
	engagements domain.EngagementRepo,
	platform domain.Platform,
	tokens TokenSource,
	executor Executor,
	logger zerolog.Logger,
	cfg Config,
) *Service {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 500
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.ViralThreshold <= 0 {
		cfg.ViralThreshold = 100
	}
	return &Service{
		accounts:    accounts,
		profiles:    profiles,
		items:       items,
		engagements: engagements,
		platform:    platform,
		tokens:      tokens,
		executor:    executor,
		log:         logger.With().Str("component", "ingest").Logger(),
		cfg:         cfg,
		now:         time.Now,
	}
}

// AccountReport — итог выгрузки по одному аккаунту.
type AccountReport struct {
	AccountID int64
	Saved     int
	Err       error
}

// collectPages обходит страницы курсора, пока он не иссякнет или не
// сработает один из лимитов. Каждая страница сохраняется сразу через save:
// сбой страницы N не теряет уже сохранённые страницы 1..N-1. Повтор уже
// виденного курсора означает цикл на стороне платформы: обход завершается.
func (s *Service) collectPages(ctx context.Context, op string, fetch func(ctx context.Context, cursor string) (domain.Page, error), save func(items []domain.PlatformItem, authors map[string]domain.Author) (int, error)) (int, error) {
	saved := 0
	collected := 0
	seenCursors := map[string]struct{}{"": {}}
	cursor := ""

	for page := 0; page < s.cfg.MaxPages; page++ {
		var result domain.Page
		err := s.executor.Execute(ctx, op, func(ctx context.Context) error {
			var callErr error
			result, callErr = fetch(ctx, cursor)
			return callErr
		})
		if err != nil {
			return saved, err
		}

		authors := make(map[string]domain.Author, len(result.Authors))
		for _, author := range result.Authors {
			authors[author.ID] = author
		}
		items := result.Items
		if collected+len(items) > s.cfg.MaxItems {
			items = items[:s.cfg.MaxItems-collected]
		}
		collected += len(items)

		n, err := save(items, authors)
		saved += n
		if err != nil {
			return saved, err
		}

		if collected >= s.cfg.MaxItems {
			return saved, nil
		}
		if result.NextCursor == "" {
			break
		}
		if _, seen := seenCursors[result.NextCursor]; seen {
			s.log.Warn().Str("op", op).Str("cursor", result.NextCursor).Msg("платформа вернула уже виденный курсор, обход остановлен")
			break
		}
		seenCursors[result.NextCursor] = struct{}{}
		cursor = result.NextCursor
	}
	return saved, nil
}

// FetchMentionsForUser выгружает упоминания всех активных аккаунтов пользователя.
func (s *Service) FetchMentionsForUser(ctx context.Context, userID int64) []AccountReport {
	return s.forEachAccount(ctx, userID, s.fetchAccountMentions)
}

// FetchKeywordsForUser выгружает находки по ключевым словам.
func (s *Service) FetchKeywordsForUser(ctx context.Context, userID int64) []AccountReport {
	return s.forEachAccount(ctx, userID, s.fetchAccountKeywords)
}

// FetchTimelineForUser выгружает собственную ленту аккаунтов и обновляет аналитику.
func (s *Service) FetchTimelineForUser(ctx context.Context, userID int64) []AccountReport {
	return s.forEachAccount(ctx, userID, s.fetchAccountTimeline)
}

func (s *Service) forEachAccount(ctx context.Context, userID int64, fetch func(ctx context.Context, account domain.Account) (int, error)) []AccountReport {
	accounts, err := s.accounts.ListActiveAccountsByUser(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось получить аккаунты пользователя")
		return []AccountReport{{Err: err}}
	}

	reports := make([]AccountReport, 0, len(accounts))
	for _, account := range accounts {
		saved, err := s.fetchOne(ctx, account, fetch)
		if err != nil {
			metrics.IngestAccountErrors.Inc()
			s.log.Error().Err(err).Int64("account_id", account.ID).Msg("выгрузка аккаунта завершилась с ошибкой")
		}
		reports = append(reports, AccountReport{AccountID: account.ID, Saved: saved, Err: err})
	}
	return reports
}

func (s *Service) fetchOne(ctx context.Context, account domain.Account, fetch func(ctx context.Context, account domain.Account) (int, error)) (int, error) {
	fresh, err := s.tokens.EnsureValidAccessToken(ctx, account.ID)
	if err != nil {
		return 0, fmt.Errorf("токен аккаунта %d: %w", account.ID, err)
	}
	return fetch(ctx, fresh)
}

func (s *Service) fetchAccountMentions(ctx context.Context, account domain.Account) (int, error) {
	return s.collectPages(ctx, "mentions", func(ctx context.Context, cursor string) (domain.Page, error) {
		return s.platform.MentionsPage(ctx, account.AccessToken, account.PlatformUserID, cursor)
	}, func(items []domain.PlatformItem, authors map[string]domain.Author) (int, error) {
		saved := 0
		for _, raw := range items {
			author, ok := authors[raw.AuthorID]
			if !ok {
				// Автор не пришёл в includes: пост бесполезен для ответа.
				s.log.Warn().Str("external_id", raw.ID).Str("author_id", raw.AuthorID).Msg("упоминание без автора пропущено")
				continue
			}
			item := itemFromPlatform(raw, account.ID, domain.ItemKindMention, author, nil)
			if err := s.items.UpsertItem(ctx, item); err != nil {
				return saved, fmt.Errorf("сохранение упоминания %s: %w", raw.ID, err)
			}
			metrics.IngestedItems.WithLabelValues(string(domain.ItemKindMention)).Inc()
			saved++
		}
		return saved, nil
	})
}

func (s *Service) fetchAccountKeywords(ctx context.Context, account domain.Account) (int, error) {
	profile, err := s.profiles.GetProfileByAccount(ctx, account.ID)
	if err != nil {
		return 0, err
	}
	if len(profile.Keywords) == 0 {
		return 0, nil
	}

	query := BuildKeywordQuery(profile.Keywords)
	since := s.now().AddDate(0, 0, -s.cfg.LookbackDays)
	seen := make(map[string]struct{})
	return s.collectPages(ctx, "search_recent", func(ctx context.Context, cursor string) (domain.Page, error) {
		return s.platform.SearchPage(ctx, account.AccessToken, query, since, cursor)
	}, func(items []domain.PlatformItem, authors map[string]domain.Author) (int, error) {
		saved := 0
		for _, raw := range items {
			if _, dup := seen[raw.ID]; dup {
				continue
			}
			seen[raw.ID] = struct{}{}

			matched := MatchKeywords(raw.Text, profile.Keywords)
			if len(matched) == 0 {
				// Платформа иногда матчит по ссылкам и цитатам: без совпадения
				// в самом тексте пост отбрасывается.
				continue
			}
			author := authors[raw.AuthorID]
			item := itemFromPlatform(raw, account.ID, domain.ItemKindKeyword, author, matched)
			if err := s.items.UpsertItem(ctx, item); err != nil {
				return saved, fmt.Errorf("сохранение находки %s: %w", raw.ID, err)
			}
			metrics.IngestedItems.WithLabelValues(string(domain.ItemKindKeyword)).Inc()
			saved++
		}
		return saved, nil
	})
}

func (s *Service) fetchAccountTimeline(ctx context.Context, account domain.Account) (int, error) {
	since := s.now().AddDate(0, 0, -s.cfg.LookbackDays)
	if analytics, ok, err := s.engagements.GetAccountAnalytics(ctx, account.ID); err == nil && ok && analytics.LastUpdated.After(since) {
		since = analytics.LastUpdated
	}

	viral := 0
	saved, err := s.collectPages(ctx, "user_tweets", func(ctx context.Context, cursor string) (domain.Page, error) {
		return s.platform.TimelinePage(ctx, account.AccessToken, account.PlatformUserID, since, cursor)
	}, func(items []domain.PlatformItem, _ map[string]domain.Author) (int, error) {
		saved := 0
		for _, raw := range items {
			total := raw.LikeCount + raw.RetweetCount + raw.ReplyCount
			sample := domain.EngagementSample{
				AccountID:      account.ID,
				ItemExternalID: raw.ID,
				SampledAt:      s.now().UTC(),
				LikeCount:      raw.LikeCount,
				RetweetCount:   raw.RetweetCount,
				ReplyCount:     raw.ReplyCount,
				Total:          total,
			}
			if err := s.engagements.SaveEngagementSample(ctx, sample); err != nil {
				return saved, fmt.Errorf("сохранение замера %s: %w", raw.ID, err)
			}
			saved++
			if total >= s.cfg.ViralThreshold {
				viral++
			}
		}
		return saved, nil
	})
	if err != nil {
		return saved, err
	}

	analytics := domain.AccountAnalytics{
		AccountID:   account.ID,
		ViralItems:  viral,
		LastUpdated: s.now().UTC(),
	}
	if err := s.engagements.UpsertAccountAnalytics(ctx, analytics); err != nil {
		return saved, fmt.Errorf("обновление аналитики аккаунта %d: %w", account.ID, err)
	}
	return saved, nil
}

func itemFromPlatform(raw domain.PlatformItem, accountID int64, kind domain.ItemKind, author domain.Author, keywords []string) domain.TrackedItem {
	return domain.TrackedItem{
		ExternalID:      raw.ID,
		Kind:            kind,
		AccountID:       accountID,
		Text:            raw.Text,
		AuthorID:        raw.AuthorID,
		AuthorUsername:  author.Username,
		AuthorName:      author.Name,
		AuthorAvatarURL: author.AvatarURL,
		LikeCount:       raw.LikeCount,
		RetweetCount:    raw.RetweetCount,
		ReplyCount:      raw.ReplyCount,
		QuoteCount:      raw.QuoteCount,
		ImpressionCount: raw.ImpressionCount,
		IsRetweet:       raw.IsRetweet,
		ReferencedID:    raw.ReferencedID,
		Keywords:        keywords,
		PostedAt:        raw.PostedAt,
	}
}

// BuildKeywordQuery собирает дизъюнктивный поисковый запрос по ключевым
// словам, исключая ретвиты и ответы.
func BuildKeywordQuery(keywords []string) string {
	quoted := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		quoted = append(quoted, `"`+keyword+`"`)
	}
	return "(" + strings.Join(quoted, " OR ") + ") -is:retweet -is:reply"
}

// MatchKeywords возвращает ключевые слова, встречающиеся в тексте
// без учёта регистра.
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, keyword := range keywords {
		trimmed := strings.TrimSpace(keyword)
		if trimmed == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(trimmed)) {
			matched = append(matched, keyword)
		}
	}
	return matched
}
