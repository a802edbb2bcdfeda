package domain

import "time"

// User описывает пользователя сервиса.
type User struct {
	ID        int64
	Email     string
	Timezone  string
	Locale    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AccountStatus описывает состояние привязанного аккаунта платформы.
type AccountStatus string

const (
	// AccountActive — аккаунт участвует в выгрузке.
	AccountActive AccountStatus = "ACTIVE"
	// AccountPaused — аккаунт требует повторной авторизации.
	AccountPaused AccountStatus = "PAUSED"
	// AccountDisabled — аккаунт отключён пользователем.
	AccountDisabled AccountStatus = "DISABLED"
)

// Account описывает привязанный аккаунт X/Twitter.
// Поля токенов мутирует только usecase/token.
type Account struct {
	ID             int64
	UserID         int64
	PlatformUserID string
	Username       string
	Status         AccountStatus
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt int64 // unix-секунды
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TrackingProfile хранит бизнес-контекст аккаунта и отслеживаемые ключевые слова.
type TrackingProfile struct {
	ID          int64
	AccountID   int64
	Name        string
	Summary     string
	Keywords    []string
	Suggestions []string
	UpdatedAt   time.Time
}

// ItemKind различает логические коллекции отслеживаемых постов.
type ItemKind string

const (
	// ItemKindMention — пост, упоминающий аккаунт.
	ItemKindMention ItemKind = "mention"
	// ItemKindKeyword — пост, найденный по ключевым словам.
	ItemKindKeyword ItemKind = "keyword"
)

// TrackedItem описывает сохранённый пост. Ключ идемпотентности —
// пара (ExternalID, Kind): повторная выгрузка никогда не создаёт дубликат.
type TrackedItem struct {
	ID              int64
	ExternalID      string
	Kind            ItemKind
	AccountID       int64
	Text            string
	AuthorID        string
	AuthorUsername  string
	AuthorName      string
	AuthorAvatarURL string
	LikeCount       int
	RetweetCount    int
	ReplyCount      int
	QuoteCount      int
	ImpressionCount int
	IsRetweet       bool
	ReferencedID    string
	Keywords        []string
	PostedAt        time.Time
	CreatedAt       time.Time
}

// EngagementSample — замер вовлечённости собственного поста аккаунта.
type EngagementSample struct {
	ID             int64
	AccountID      int64
	ItemExternalID string
	SampledAt      time.Time
	LikeCount      int
	RetweetCount   int
	ReplyCount     int
	Total          int
}

// AccountAnalytics — агрегированная аналитика аккаунта.
type AccountAnalytics struct {
	AccountID   int64
	ViralItems  int
	LastUpdated time.Time
}

// GeneratedReply — подготовленный черновик ответа на пост.
type GeneratedReply struct {
	ID             int64
	ItemExternalID string
	Engagement     EngagementType
	ReplyType      string
	Text           string
	Prepared       bool
	CreatedAt      time.Time
}
