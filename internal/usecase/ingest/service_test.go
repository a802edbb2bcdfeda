package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
)

type stubAccounts struct {
	accounts []domain.Account
}

func (s *stubAccounts) GetAccount(_ context.Context, id int64) (domain.Account, error) {
	for _, account := range s.accounts {
		if account.ID == id {
			return account, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (s *stubAccounts) ListActiveAccounts(context.Context) ([]domain.Account, error) {
	return s.accounts, nil
}

func (s *stubAccounts) ListActiveAccountsByUser(context.Context, int64) ([]domain.Account, error) {
	return s.accounts, nil
}

func (s *stubAccounts) ListExpiringAccounts(context.Context, time.Time) ([]domain.Account, error) {
	return nil, nil
}

func (s *stubAccounts) UpdateAccountTokens(context.Context, int64, string, string, int64) error {
	return nil
}

func (s *stubAccounts) SetAccountStatus(context.Context, int64, domain.AccountStatus) error {
	return nil
}

type stubProfiles struct {
	profile domain.TrackingProfile
}

func (s *stubProfiles) GetProfileByAccount(context.Context, int64) (domain.TrackingProfile, error) {
	return s.profile, nil
}

func (s *stubProfiles) UpdateProfileSuggestions(context.Context, int64, []string) error { return nil }

type itemKey struct {
	externalID string
	kind       domain.ItemKind
}

type stubItems struct {
	stored map[itemKey]domain.TrackedItem
}

func newStubItems() *stubItems {
	return &stubItems{stored: make(map[itemKey]domain.TrackedItem)}
}

func (s *stubItems) UpsertItem(_ context.Context, item domain.TrackedItem) error {
	key := itemKey{externalID: item.ExternalID, kind: item.Kind}
	if existing, ok := s.stored[key]; ok {
		merged := existing
		merged.LikeCount = item.LikeCount
		merged.Keywords = unionStrings(existing.Keywords, item.Keywords)
		s.stored[key] = merged
		return nil
	}
	s.stored[key] = item
	return nil
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, v := range append(append([]string{}, a...), b...) {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (s *stubItems) ListRecentItems(context.Context, int64, domain.ItemKind, time.Time, int) ([]domain.TrackedItem, error) {
	return nil, nil
}

func (s *stubItems) CountKeywordHits(context.Context, int64, time.Time) (map[string]int, error) {
	return nil, nil
}

type stubEngagements struct {
	samples   []domain.EngagementSample
	analytics map[int64]domain.AccountAnalytics
}

func newStubEngagements() *stubEngagements {
	return &stubEngagements{analytics: make(map[int64]domain.AccountAnalytics)}
}

func (s *stubEngagements) SaveEngagementSample(_ context.Context, sample domain.EngagementSample) error {
	s.samples = append(s.samples, sample)
	return nil
}

func (s *stubEngagements) UpsertAccountAnalytics(_ context.Context, analytics domain.AccountAnalytics) error {
	s.analytics[analytics.AccountID] = analytics
	return nil
}

func (s *stubEngagements) GetAccountAnalytics(_ context.Context, accountID int64) (domain.AccountAnalytics, bool, error) {
	analytics, ok := s.analytics[accountID]
	return analytics, ok, nil
}

// stubPlatform отдаёт страницы по ключу "идентификатор:курсор".
type stubPlatform struct {
	pages    map[string]domain.Page
	failFor  map[string]error
	requests int
}

func (s *stubPlatform) RefreshOAuthToken(context.Context, string) (domain.TokenGrant, error) {
	return domain.TokenGrant{}, nil
}

func (s *stubPlatform) page(key string) (domain.Page, error) {
	s.requests++
	if err, ok := s.failFor[key]; ok {
		return domain.Page{}, err
	}
	return s.pages[key], nil
}

func (s *stubPlatform) MentionsPage(_ context.Context, _, platformUserID, cursor string) (domain.Page, error) {
	return s.page(platformUserID + ":" + cursor)
}

func (s *stubPlatform) SearchPage(_ context.Context, _, _ string, _ time.Time, cursor string) (domain.Page, error) {
	return s.page("search:" + cursor)
}

func (s *stubPlatform) TimelinePage(_ context.Context, _, platformUserID string, _ time.Time, cursor string) (domain.Page, error) {
	return s.page("timeline:" + platformUserID + ":" + cursor)
}

type passTokens struct {
	accounts *stubAccounts
}

func (p *passTokens) EnsureValidAccessToken(ctx context.Context, accountID int64) (domain.Account, error) {
	return p.accounts.GetAccount(ctx, accountID)
}

type directExecutor struct{}

func (directExecutor) Execute(ctx context.Context, _ string, call func(ctx context.Context) error) error {
	return call(ctx)
}

func newTestService(accounts *stubAccounts, profiles *stubProfiles, items *stubItems, engagements *stubEngagements, platform *stubPlatform, cfg Config) *Service {
	return NewService(accounts, profiles, items, engagements, platform, &passTokens{accounts: accounts}, directExecutor{}, zerolog.Nop(), cfg)
}

func mention(id, authorID string) domain.PlatformItem {
	return domain.PlatformItem{ID: id, Text: "пост " + id, AuthorID: authorID, PostedAt: time.Now().UTC()}
}

func author(id, username string) domain.Author {
	return domain.Author{ID: id, Username: username, Name: username}
}

func TestFetchMentionsOverlappingPagesStayUnique(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"u1:": {
			Items:      []domain.PlatformItem{mention("1", "a"), mention("2", "a")},
			Authors:    []domain.Author{author("a", "alice")},
			NextCursor: "p2",
		},
		"u1:p2": {
			Items:   []domain.PlatformItem{mention("2", "a"), mention("3", "a")},
			Authors: []domain.Author{author("a", "alice")},
		},
	}}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if len(reports) != 1 || reports[0].Err != nil {
		t.Fatalf("не ожидали ошибку: %+v", reports)
	}
	if len(items.stored) != 3 {
		t.Fatalf("ожидали 3 уникальных поста, получили %d", len(items.stored))
	}
	for _, id := range []string{"1", "2", "3"} {
		if _, ok := items.stored[itemKey{externalID: id, kind: domain.ItemKindMention}]; !ok {
			t.Fatalf("пост %s не сохранён", id)
		}
	}
}

func TestFetchMentionsSkipsUnresolvedAuthors(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"u1:": {
			Items:   []domain.PlatformItem{mention("1", "a"), mention("2", "ghost")},
			Authors: []domain.Author{author("a", "alice")},
		},
	}}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if reports[0].Saved != 1 {
		t.Fatalf("ожидали 1 сохранённый пост, получили %d", reports[0].Saved)
	}
	if _, ok := items.stored[itemKey{externalID: "2", kind: domain.ItemKindMention}]; ok {
		t.Fatalf("пост без автора не должен сохраняться")
	}
}

func TestCollectPagesStopsOnCyclicCursor(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"u1:": {
			Items:      []domain.PlatformItem{mention("1", "a")},
			Authors:    []domain.Author{author("a", "alice")},
			NextCursor: "loop",
		},
		"u1:loop": {
			Items:      []domain.PlatformItem{mention("2", "a")},
			Authors:    []domain.Author{author("a", "alice")},
			NextCursor: "loop",
		},
	}}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{MaxPages: 10})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if reports[0].Err != nil {
		t.Fatalf("не ожидали ошибку: %v", reports[0].Err)
	}
	if platform.requests != 2 {
		t.Fatalf("цикличный курсор должен останавливать обход, запросов %d", platform.requests)
	}
	if len(items.stored) != 2 {
		t.Fatalf("собранное до цикла должно сохраняться, получили %d", len(items.stored))
	}
}

func TestCollectPagesBoundedByMaxPages(t *testing.T) {
	pages := map[string]domain.Page{}
	cursor := ""
	for i := 0; i < 20; i++ {
		next := "c" + string(rune('a'+i))
		pages["u1:"+cursor] = domain.Page{
			Items:      []domain.PlatformItem{mention(next, "a")},
			Authors:    []domain.Author{author("a", "alice")},
			NextCursor: next,
		}
		cursor = next
	}
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	platform := &stubPlatform{pages: pages}
	service := newTestService(accounts, &stubProfiles{}, newStubItems(), newStubEngagements(), platform, Config{MaxPages: 3})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if reports[0].Err != nil {
		t.Fatalf("не ожидали ошибку: %v", reports[0].Err)
	}
	if platform.requests != 3 {
		t.Fatalf("ожидали не более 3 запросов, было %d", platform.requests)
	}
}

func TestFetchMentionsIsolatesAccountFailures(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{
		{ID: 1, PlatformUserID: "bad", Status: domain.AccountActive, AccessToken: "acc"},
		{ID: 2, PlatformUserID: "good", Status: domain.AccountActive, AccessToken: "acc"},
	}}
	items := newStubItems()
	platform := &stubPlatform{
		pages: map[string]domain.Page{
			"good:": {
				Items:   []domain.PlatformItem{mention("1", "a")},
				Authors: []domain.Author{author("a", "alice")},
			},
		},
		failFor: map[string]error{
			"bad:": &domain.PlatformError{StatusCode: 403, Message: "forbidden"},
		},
	}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if len(reports) != 2 {
		t.Fatalf("ожидали отчёт по обоим аккаунтам, получили %d", len(reports))
	}
	if reports[0].Err == nil {
		t.Fatalf("ожидали ошибку первого аккаунта")
	}
	if reports[1].Err != nil || reports[1].Saved != 1 {
		t.Fatalf("ошибка одного аккаунта не должна прерывать второй: %+v", reports[1])
	}
}

func TestFetchMentionsKeepsPagesSavedBeforeFailure(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{
		pages: map[string]domain.Page{
			"u1:": {
				Items:      []domain.PlatformItem{mention("1", "a"), mention("2", "a")},
				Authors:    []domain.Author{author("a", "alice")},
				NextCursor: "p2",
			},
		},
		failFor: map[string]error{
			"u1:p2": &domain.PlatformError{StatusCode: 400, Message: "bad request"},
		},
	}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if reports[0].Err == nil {
		t.Fatalf("ожидали ошибку второй страницы")
	}
	if reports[0].Saved != 2 {
		t.Fatalf("страницы до сбоя должны сохраняться, сохранено %d", reports[0].Saved)
	}
	for _, id := range []string{"1", "2"} {
		if _, ok := items.stored[itemKey{externalID: id, kind: domain.ItemKindMention}]; !ok {
			t.Fatalf("пост %s первой страницы не сохранён", id)
		}
	}
}

func TestFetchKeywordsVerifiesText(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"search:": {
			Items: []domain.PlatformItem{
				{ID: "1", Text: "Ищу решение для Интеграции сервисов", AuthorID: "a", PostedAt: time.Now().UTC()},
				{ID: "2", Text: "пост совсем о другом", AuthorID: "a", PostedAt: time.Now().UTC()},
				{ID: "1", Text: "дубль первого", AuthorID: "a", PostedAt: time.Now().UTC()},
			},
			Authors: []domain.Author{author("a", "alice")},
		},
	}}
	profiles := &stubProfiles{profile: domain.TrackingProfile{ID: 5, AccountID: 1, Keywords: []string{"интеграции", "автоматизация"}}}
	service := newTestService(accounts, profiles, items, newStubEngagements(), platform, Config{})

	reports := service.FetchKeywordsForUser(context.Background(), 10)
	if reports[0].Err != nil {
		t.Fatalf("не ожидали ошибку: %v", reports[0].Err)
	}
	if reports[0].Saved != 1 {
		t.Fatalf("ожидали 1 проверенную находку, получили %d", reports[0].Saved)
	}
	stored := items.stored[itemKey{externalID: "1", kind: domain.ItemKindKeyword}]
	if len(stored.Keywords) != 1 || stored.Keywords[0] != "интеграции" {
		t.Fatalf("ожидали совпавшее ключевое слово, получили %v", stored.Keywords)
	}
}

func TestBuildKeywordQuery(t *testing.T) {
	query := BuildKeywordQuery([]string{"golang", "распределённые системы"})
	want := `("golang" OR "распределённые системы") -is:retweet -is:reply`
	if query != want {
		t.Fatalf("ожидали %q, получили %q", want, query)
	}
}

func TestFetchTimelineCountsViralItems(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	engagements := newStubEngagements()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"timeline:u1:": {
			Items: []domain.PlatformItem{
				{ID: "1", LikeCount: 80, RetweetCount: 30, PostedAt: time.Now().UTC()},
				{ID: "2", LikeCount: 3, PostedAt: time.Now().UTC()},
			},
		},
	}}
	service := newTestService(accounts, &stubProfiles{}, newStubItems(), engagements, platform, Config{ViralThreshold: 100})

	reports := service.FetchTimelineForUser(context.Background(), 10)
	if reports[0].Err != nil {
		t.Fatalf("не ожидали ошибку: %v", reports[0].Err)
	}
	if len(engagements.samples) != 2 {
		t.Fatalf("ожидали 2 замера, получили %d", len(engagements.samples))
	}
	analytics, ok := engagements.analytics[1]
	if !ok || analytics.ViralItems != 1 {
		t.Fatalf("ожидали 1 виральный пост, получили %+v", analytics)
	}
}

func TestFetchMentionsRepeatedRunIdempotent(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	items := newStubItems()
	platform := &stubPlatform{pages: map[string]domain.Page{
		"u1:": {
			Items:   []domain.PlatformItem{mention("1", "a")},
			Authors: []domain.Author{author("a", "alice")},
		},
	}}
	service := newTestService(accounts, &stubProfiles{}, items, newStubEngagements(), platform, Config{})

	service.FetchMentionsForUser(context.Background(), 10)
	service.FetchMentionsForUser(context.Background(), 10)
	if len(items.stored) != 1 {
		t.Fatalf("повторная выгрузка не должна создавать дубликаты, получили %d", len(items.stored))
	}
}

func TestFetchMentionsTokenFailureIsReported(t *testing.T) {
	accounts := &stubAccounts{accounts: []domain.Account{{ID: 1, PlatformUserID: "u1", Status: domain.AccountActive, AccessToken: "acc"}}}
	service := NewService(accounts, &stubProfiles{}, newStubItems(), newStubEngagements(), &stubPlatform{}, failTokens{}, directExecutor{}, zerolog.Nop(), Config{})

	reports := service.FetchMentionsForUser(context.Background(), 10)
	if reports[0].Err == nil || !errors.Is(reports[0].Err, domain.ErrReauthenticationRequired) {
		t.Fatalf("ожидали ошибку токена, получили %+v", reports[0])
	}
}

type failTokens struct{}

func (failTokens) EnsureValidAccessToken(context.Context, int64) (domain.Account, error) {
	return domain.Account{}, domain.ErrReauthenticationRequired
}
