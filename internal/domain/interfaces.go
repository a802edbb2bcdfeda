package domain

import (
	"context"
	"time"
)

// TokenGrant — результат обновления OAuth2-токена.
// RefreshToken может быть пустым: провайдер не всегда ротирует его.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Author описывает автора поста из блока includes ответа платформы.
type Author struct {
	ID        string
	Username  string
	Name      string
	AvatarURL string
}

// PlatformItem — пост в том виде, в котором его возвращает платформа.
type PlatformItem struct {
	ID              string
	Text            string
	AuthorID        string
	LikeCount       int
	RetweetCount    int
	ReplyCount      int
	QuoteCount      int
	ImpressionCount int
	IsRetweet       bool
	ReferencedID    string
	PostedAt        time.Time
}

// Page — одна страница пагинированной коллекции платформы.
// NextCursor пуст на последней странице.
type Page struct {
	Items      []PlatformItem
	Authors    []Author
	NextCursor string
}

// Platform — порт внешнего социального API.
// Ошибки несут числовой статус через *PlatformError.
type Platform interface {
	RefreshOAuthToken(ctx context.Context, refreshToken string) (TokenGrant, error)
	MentionsPage(ctx context.Context, accessToken, platformUserID, cursor string) (Page, error)
	SearchPage(ctx context.Context, accessToken, query string, since time.Time, cursor string) (Page, error)
	TimelinePage(ctx context.Context, accessToken, platformUserID string, since time.Time, cursor string) (Page, error)
}

// AccountRepo управляет аккаунтами.
type AccountRepo interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListActiveAccounts(ctx context.Context) ([]Account, error)
	ListActiveAccountsByUser(ctx context.Context, userID int64) ([]Account, error)
	// ListExpiringAccounts возвращает ACTIVE-аккаунты, чей токен истекает не позже deadline.
	ListExpiringAccounts(ctx context.Context, deadline time.Time) ([]Account, error)
	UpdateAccountTokens(ctx context.Context, id int64, access, refresh string, expiresAt int64) error
	SetAccountStatus(ctx context.Context, id int64, status AccountStatus) error
}

// ProfileRepo управляет профилями отслеживания.
type ProfileRepo interface {
	GetProfileByAccount(ctx context.Context, accountID int64) (TrackingProfile, error)
	UpdateProfileSuggestions(ctx context.Context, profileID int64, suggestions []string) error
}

// ItemRepo управляет отслеживаемыми постами.
type ItemRepo interface {
	// UpsertItem сохраняет пост по ключу (external_id, kind). Ветка обновления
	// не затирает поля, отсутствующие в новой выгрузке, а ключевые слова
	// накапливаются объединением.
	UpsertItem(ctx context.Context, item TrackedItem) error
	// ListRecentItems возвращает посты коллекции kind не старше since,
	// отсортированные по числу показов, не более limit.
	ListRecentItems(ctx context.Context, accountID int64, kind ItemKind, since time.Time, limit int) ([]TrackedItem, error)
	CountKeywordHits(ctx context.Context, accountID int64, since time.Time) (map[string]int, error)
}

// EngagementRepo хранит замеры вовлечённости и аналитику аккаунтов.
type EngagementRepo interface {
	SaveEngagementSample(ctx context.Context, sample EngagementSample) error
	UpsertAccountAnalytics(ctx context.Context, analytics AccountAnalytics) error
	GetAccountAnalytics(ctx context.Context, accountID int64) (AccountAnalytics, bool, error)
}

// ReplyRepo хранит сгенерированные черновики ответов.
type ReplyRepo interface {
	SaveGeneratedReply(ctx context.Context, reply GeneratedReply) error
}

// UserRepo управляет пользователями.
type UserRepo interface {
	// ListUsersWithAccounts возвращает пользователей, у которых есть хотя бы
	// один привязанный аккаунт.
	ListUsersWithAccounts(ctx context.Context) ([]User, error)
}

// Ranker — порт ранжирования: отбирает из свежих постов top-K наиболее
// релевантных эталонному описанию.
type Ranker interface {
	Rank(ctx context.Context, items []TrackedItem, reference string) ([]TrackedItem, error)
}

// ReplyGenerator — порт генерации черновика ответа.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, item TrackedItem, engagement EngagementType, reference string) (GeneratedReply, error)
}

// KeywordAdvisor предлагает замены ключевым словам, не давшим находок.
type KeywordAdvisor interface {
	SuggestKeywords(ctx context.Context, dead []string, hits map[string]int, reference string) ([]string, error)
}

// Notifier уведомляет операторов о событиях, требующих внимания человека.
type Notifier interface {
	NotifyReauthRequired(ctx context.Context, account Account) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
