package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AccountRepo             = (*Postgres)(nil)
	_ domain.ProfileRepo             = (*Postgres)(nil)
	_ domain.ItemRepo                = (*Postgres)(nil)
	_ domain.EngagementRepo          = (*Postgres)(nil)
	_ domain.ReplyRepo               = (*Postgres)(nil)
	_ domain.UserRepo                = (*Postgres)(nil)
	_ domain.EngagementJobStatusRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const accountColumns = `id, user_id, platform_user_id, username, status, access_token, refresh_token, token_expires_at, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.PlatformUserID,
		&account.Username,
		&account.Status,
		&account.AccessToken,
		&account.RefreshToken,
		&account.TokenExpiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	return account, err
}

// GetAccount возвращает аккаунт по идентификатору.
func (p *Postgres) GetAccount(ctx context.Context, id int64) (domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	account, err := scanAccount(p.pool.QueryRow(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE id = $1
`, id))
	metrics.ObserveNetworkRequest("postgres", "accounts_get", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	return account, nil
}

// ListActiveAccounts возвращает все аккаунты в статусе ACTIVE.
func (p *Postgres) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE status = $1 ORDER BY id
`, domain.AccountActive)
	metrics.ObserveNetworkRequest("postgres", "accounts_list_active", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListActiveAccountsByUser возвращает ACTIVE-аккаунты пользователя.
func (p *Postgres) ListActiveAccountsByUser(ctx context.Context, userID int64) ([]domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 AND status = $2 ORDER BY id
`, userID, domain.AccountActive)
	metrics.ObserveNetworkRequest("postgres", "accounts_list_by_user", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListExpiringAccounts возвращает ACTIVE-аккаунты, чей токен истекает не позже deadline.
func (p *Postgres) ListExpiringAccounts(ctx context.Context, deadline time.Time) ([]domain.Account, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+accountColumns+` FROM accounts
WHERE status = $1 AND token_expires_at <= $2
ORDER BY token_expires_at
`, domain.AccountActive, deadline.Unix())
	metrics.ObserveNetworkRequest("postgres", "accounts_list_expiring", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]domain.Account, error) {
	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateAccountTokens сохраняет новую пару токенов аккаунта.
func (p *Postgres) UpdateAccountTokens(ctx context.Context, id int64, access, refresh string, expiresAt int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE accounts
SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = now()
WHERE id = $1
`, id, access, refresh, expiresAt)
	metrics.ObserveNetworkRequest("postgres", "accounts_update_tokens", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// SetAccountStatus переводит аккаунт в новый статус.
func (p *Postgres) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE accounts SET status = $2, updated_at = now() WHERE id = $1
`, id, status)
	metrics.ObserveNetworkRequest("postgres", "accounts_set_status", "accounts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// GetProfileByAccount возвращает профиль отслеживания аккаунта.
func (p *Postgres) GetProfileByAccount(ctx context.Context, accountID int64) (domain.TrackingProfile, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var profile domain.TrackingProfile
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, account_id, name, summary, keywords, suggestions, updated_at
FROM tracking_profiles WHERE account_id = $1
`, accountID).Scan(
		&profile.ID,
		&profile.AccountID,
		&profile.Name,
		&profile.Summary,
		&profile.Keywords,
		&profile.Suggestions,
		&profile.UpdatedAt,
	)
	metrics.ObserveNetworkRequest("postgres", "tracking_profiles_get", "tracking_profiles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TrackingProfile{}, domain.ErrProfileNotFound
	}
	if err != nil {
		return domain.TrackingProfile{}, err
	}
	return profile, nil
}

// UpdateProfileSuggestions сохраняет предложенные ключевые слова профиля.
func (p *Postgres) UpdateProfileSuggestions(ctx context.Context, profileID int64, suggestions []string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE tracking_profiles SET suggestions = $2, updated_at = now() WHERE id = $1
`, profileID, suggestions)
	metrics.ObserveNetworkRequest("postgres", "tracking_profiles_update_suggestions", "tracking_profiles", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

// UpsertItem сохраняет пост по ключу (external_id, kind). Счётчики обновляются
// свежими значениями, текстовые поля не затираются пустыми, ключевые слова
// накапливаются объединением.
func (p *Postgres) UpsertItem(ctx context.Context, item domain.TrackedItem) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO tracked_items (
    external_id, kind, account_id, text,
    author_id, author_username, author_name, author_avatar_url,
    like_count, retweet_count, reply_count, quote_count, impression_count,
    is_retweet, referenced_id, keywords, posted_at, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15,''), COALESCE($16::text[], '{}'), $17, now())
ON CONFLICT (external_id, kind) DO UPDATE SET
    text = COALESCE(NULLIF(EXCLUDED.text,''), tracked_items.text),
    author_username = COALESCE(NULLIF(EXCLUDED.author_username,''), tracked_items.author_username),
    author_name = COALESCE(NULLIF(EXCLUDED.author_name,''), tracked_items.author_name),
    author_avatar_url = COALESCE(NULLIF(EXCLUDED.author_avatar_url,''), tracked_items.author_avatar_url),
    like_count = EXCLUDED.like_count,
    retweet_count = EXCLUDED.retweet_count,
    reply_count = EXCLUDED.reply_count,
    quote_count = EXCLUDED.quote_count,
    impression_count = EXCLUDED.impression_count,
    is_retweet = EXCLUDED.is_retweet,
    referenced_id = COALESCE(EXCLUDED.referenced_id, tracked_items.referenced_id),
    keywords = ARRAY(
        SELECT DISTINCT kw FROM unnest(tracked_items.keywords || EXCLUDED.keywords) AS kw
    )
`,
		item.ExternalID, item.Kind, item.AccountID, item.Text,
		item.AuthorID, item.AuthorUsername, item.AuthorName, item.AuthorAvatarURL,
		item.LikeCount, item.RetweetCount, item.ReplyCount, item.QuoteCount, item.ImpressionCount,
		item.IsRetweet, item.ReferencedID, item.Keywords, item.PostedAt,
	)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_upsert", "tracked_items", start, err)
	return err
}

// ListRecentItems возвращает посты коллекции kind не старше since,
// отсортированные по числу показов.
func (p *Postgres) ListRecentItems(ctx context.Context, accountID int64, kind domain.ItemKind, since time.Time, limit int) ([]domain.TrackedItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, external_id, kind, account_id, text,
       author_id, author_username, author_name, author_avatar_url,
       like_count, retweet_count, reply_count, quote_count, impression_count,
       is_retweet, COALESCE(referenced_id, ''), keywords, posted_at, created_at
FROM tracked_items
WHERE account_id = $1 AND kind = $2 AND posted_at >= $3
ORDER BY impression_count DESC, posted_at DESC
LIMIT $4
`, accountID, kind, since, limit)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_list_recent", "tracked_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		var item domain.TrackedItem
		if err := rows.Scan(
			&item.ID, &item.ExternalID, &item.Kind, &item.AccountID, &item.Text,
			&item.AuthorID, &item.AuthorUsername, &item.AuthorName, &item.AuthorAvatarURL,
			&item.LikeCount, &item.RetweetCount, &item.ReplyCount, &item.QuoteCount, &item.ImpressionCount,
			&item.IsRetweet, &item.ReferencedID, &item.Keywords, &item.PostedAt, &item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CountKeywordHits возвращает количество находок по каждому ключевому слову.
func (p *Postgres) CountKeywordHits(ctx context.Context, accountID int64, since time.Time) (map[string]int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT kw, count(*)
FROM tracked_items, unnest(keywords) AS kw
WHERE account_id = $1 AND kind = $2 AND posted_at >= $3
GROUP BY kw
`, accountID, domain.ItemKindKeyword, since)
	metrics.ObserveNetworkRequest("postgres", "tracked_items_keyword_hits", "tracked_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make(map[string]int)
	for rows.Next() {
		var keyword string
		var count int
		if err := rows.Scan(&keyword, &count); err != nil {
			return nil, err
		}
		hits[keyword] = count
	}
	return hits, rows.Err()
}

// SaveEngagementSample сохраняет замер вовлечённости собственного поста.
func (p *Postgres) SaveEngagementSample(ctx context.Context, sample domain.EngagementSample) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if sample.SampledAt.IsZero() {
		sample.SampledAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO engagement_samples (account_id, item_external_id, sampled_at, like_count, retweet_count, reply_count, total)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, sample.AccountID, sample.ItemExternalID, sample.SampledAt, sample.LikeCount, sample.RetweetCount, sample.ReplyCount, sample.Total)
	metrics.ObserveNetworkRequest("postgres", "engagement_samples_insert", "engagement_samples", start, err)
	return err
}

// UpsertAccountAnalytics сохраняет агрегированную аналитику аккаунта.
func (p *Postgres) UpsertAccountAnalytics(ctx context.Context, analytics domain.AccountAnalytics) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if analytics.LastUpdated.IsZero() {
		analytics.LastUpdated = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO account_analytics (account_id, viral_items, last_updated)
VALUES ($1, $2, $3)
ON CONFLICT (account_id) DO UPDATE SET
    viral_items = EXCLUDED.viral_items,
    last_updated = EXCLUDED.last_updated
`, analytics.AccountID, analytics.ViralItems, analytics.LastUpdated)
	metrics.ObserveNetworkRequest("postgres", "account_analytics_upsert", "account_analytics", start, err)
	return err
}

// GetAccountAnalytics возвращает аналитику аккаунта, если она уже посчитана.
func (p *Postgres) GetAccountAnalytics(ctx context.Context, accountID int64) (domain.AccountAnalytics, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var analytics domain.AccountAnalytics
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT account_id, viral_items, last_updated FROM account_analytics WHERE account_id = $1
`, accountID).Scan(&analytics.AccountID, &analytics.ViralItems, &analytics.LastUpdated)
	metrics.ObserveNetworkRequest("postgres", "account_analytics_get", "account_analytics", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountAnalytics{}, false, nil
	}
	if err != nil {
		return domain.AccountAnalytics{}, false, err
	}
	return analytics, true, nil
}

// SaveGeneratedReply сохраняет черновик ответа.
func (p *Postgres) SaveGeneratedReply(ctx context.Context, reply domain.GeneratedReply) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO generated_replies (item_external_id, engagement, reply_type, text, prepared, created_at)
VALUES ($1, $2, $3, $4, $5, now())
`, reply.ItemExternalID, reply.Engagement, reply.ReplyType, reply.Text, reply.Prepared)
	metrics.ObserveNetworkRequest("postgres", "generated_replies_insert", "generated_replies", start, err)
	return err
}

// ListUsersWithAccounts возвращает пользователей, у которых есть хотя бы один
// привязанный аккаунт.
func (p *Postgres) ListUsersWithAccounts(ctx context.Context) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT DISTINCT u.id, u.email, COALESCE(u.tz, ''), COALESCE(u.locale, ''), u.created_at, u.updated_at
FROM users u
JOIN accounts a ON a.user_id = u.id
ORDER BY u.id
`)
	metrics.ObserveNetworkRequest("postgres", "users_list_with_accounts", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Timezone, &user.Locale, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// EnsureEngagementJob регистрирует попытку обработки задачи.
func (p *Postgres) EnsureEngagementJob(ctx context.Context, jobID string) (bool, int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		delivered sql.NullTime
		attempts  int
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO engagement_job_statuses (job_id, attempts, updated_at)
VALUES ($1, 1, now())
ON CONFLICT (job_id) DO UPDATE
    SET attempts = engagement_job_statuses.attempts + 1,
        updated_at = now()
RETURNING delivered_at, attempts
`, jobID).Scan(&delivered, &attempts)
	metrics.ObserveNetworkRequest("postgres", "engagement_job_statuses_upsert", "engagement_job_statuses", start, err)
	if err != nil {
		return false, 0, err
	}
	return delivered.Valid, attempts, nil
}

// MarkEngagementJobDelivered помечает задачу как доставленную.
func (p *Postgres) MarkEngagementJobDelivered(ctx context.Context, jobID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE engagement_job_statuses SET delivered_at = now(), updated_at = now() WHERE job_id = $1
`, jobID)
	metrics.ObserveNetworkRequest("postgres", "engagement_job_statuses_delivered", "engagement_job_statuses", start, err)
	return err
}
