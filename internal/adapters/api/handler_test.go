package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
)

type stubAccounts struct {
	account domain.Account
	found   bool
}

func (s *stubAccounts) GetAccount(context.Context, int64) (domain.Account, error) {
	if !s.found {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *stubAccounts) ListActiveAccounts(context.Context) ([]domain.Account, error) { return nil, nil }

func (s *stubAccounts) ListActiveAccountsByUser(context.Context, int64) ([]domain.Account, error) {
	return nil, nil
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

type stubEngagement struct {
	analytics domain.AccountAnalytics
	found     bool
}

func (s *stubEngagement) SaveEngagementSample(context.Context, domain.EngagementSample) error {
	return nil
}

func (s *stubEngagement) UpsertAccountAnalytics(context.Context, domain.AccountAnalytics) error {
	return nil
}

func (s *stubEngagement) GetAccountAnalytics(context.Context, int64) (domain.AccountAnalytics, bool, error) {
	return s.analytics, s.found, nil
}

type stubQueue struct {
	jobs []domain.EngagementJob
}

func (s *stubQueue) Enqueue(_ context.Context, job domain.EngagementJob) error {
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubQueue) Receive(context.Context) (domain.EngagementJob, domain.EngagementAckFunc, error) {
	return domain.EngagementJob{}, nil, nil
}

func newTestRouter(accounts *stubAccounts, engagement *stubEngagement, queue *stubQueue) chi.Router {
	r := chi.NewRouter()
	NewHandler(accounts, engagement, queue, zerolog.Nop()).Mount(r)
	return r
}

func TestEnqueueEngagementManualJob(t *testing.T) {
	accounts := &stubAccounts{account: domain.Account{ID: 1, UserID: 10, Status: domain.AccountActive}, found: true}
	queue := &stubQueue{}
	router := newTestRouter(accounts, &stubEngagement{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/1/engage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", rec.Code)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали задачу в очереди")
	}
	if queue.jobs[0].Cause != domain.EngagementCauseManual {
		t.Fatalf("ожидали причину manual, получили %q", queue.jobs[0].Cause)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["job_id"] == "" {
		t.Fatalf("ожидали идентификатор задачи в ответе: %s", rec.Body.String())
	}
}

func TestEnqueueEngagementInactiveAccount(t *testing.T) {
	accounts := &stubAccounts{account: domain.Account{ID: 1, Status: domain.AccountPaused}, found: true}
	queue := &stubQueue{}
	router := newTestRouter(accounts, &stubEngagement{}, queue)

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/1/engage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("ожидали 409, получили %d", rec.Code)
	}
	if len(queue.jobs) != 0 {
		t.Fatalf("неактивный аккаунт не должен порождать задач")
	}
}

func TestEnqueueEngagementUnknownAccount(t *testing.T) {
	router := newTestRouter(&stubAccounts{}, &stubEngagement{}, &stubQueue{})

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/404/engage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", rec.Code)
	}
}

func TestAccountAnalytics(t *testing.T) {
	engagement := &stubEngagement{
		analytics: domain.AccountAnalytics{AccountID: 1, ViralItems: 3, LastUpdated: time.Now()},
		found:     true,
	}
	router := newTestRouter(&stubAccounts{}, engagement, &stubQueue{})

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/1/analytics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ожидали JSON: %v", err)
	}
	if body["viral_items"].(float64) != 3 {
		t.Fatalf("неожиданная аналитика: %v", body)
	}
}
