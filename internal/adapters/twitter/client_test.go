package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tweet-scout/internal/domain"
)

func TestRefreshOAuthToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/oauth2/token" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("разбор формы: %v", err)
		}
		if r.PostForm.Get("grant_type") != "refresh_token" {
			t.Fatalf("ожидали grant_type=refresh_token, получили %q", r.PostForm.Get("grant_type"))
		}
		if r.PostForm.Get("refresh_token") != "old-refresh" {
			t.Fatalf("неожиданный refresh_token: %q", r.PostForm.Get("refresh_token"))
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Fatalf("ожидали basic-авторизацию клиента")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200}`))
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", srv.URL)
	grant, err := client.RefreshOAuthToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if grant.AccessToken != "new-access" || grant.RefreshToken != "new-refresh" || grant.ExpiresIn != 7200 {
		t.Fatalf("неожиданный грант: %+v", grant)
	}
}

func TestRefreshOAuthTokenInvalidGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"token revoked"}`))
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", srv.URL)
	_, err := client.RefreshOAuthToken(context.Background(), "revoked")
	var platformErr *domain.PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("ожидали *PlatformError, получили %v", err)
	}
	if !platformErr.IsInvalidGrant() {
		t.Fatalf("ожидали invalid_grant, получили %+v", platformErr)
	}
}

func TestMentionsPageMapsTweetsAndAuthors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/users/42/mentions" {
			t.Fatalf("неожиданный путь: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer acc" {
			t.Fatalf("неожиданный Authorization: %q", got)
		}
		if got := r.URL.Query().Get("pagination_token"); got != "cur-1" {
			t.Fatalf("неожиданный pagination_token: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data":[{
				"id":"100","text":"привет","author_id":"7",
				"created_at":"2026-08-30T10:00:00Z",
				"public_metrics":{"retweet_count":1,"reply_count":2,"like_count":3,"quote_count":4,"impression_count":500},
				"referenced_tweets":[{"type":"retweeted","id":"99"}]
			}],
			"includes":{"users":[{"id":"7","username":"alice","name":"Alice","profile_image_url":"https://img/a.png"}]},
			"meta":{"next_token":"cur-2"}
		}`))
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", srv.URL)
	page, err := client.MentionsPage(context.Background(), "acc", "42", "cur-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if page.NextCursor != "cur-2" {
		t.Fatalf("ожидали курсор следующей страницы, получили %q", page.NextCursor)
	}
	if len(page.Items) != 1 {
		t.Fatalf("ожидали 1 пост, получили %d", len(page.Items))
	}
	item := page.Items[0]
	if item.ID != "100" || item.AuthorID != "7" || item.ImpressionCount != 500 {
		t.Fatalf("неожиданный пост: %+v", item)
	}
	if !item.IsRetweet || item.ReferencedID != "99" {
		t.Fatalf("ожидали отметку ретвита: %+v", item)
	}
	if len(page.Authors) != 1 || page.Authors[0].Username != "alice" {
		t.Fatalf("неожиданные авторы: %+v", page.Authors)
	}
}

func TestSearchPageRateLimited(t *testing.T) {
	reset := time.Now().Add(90 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"errors":[{"title":"Too Many Requests","detail":"rate limit exceeded","type":"about:blank"}]}`))
	}))
	defer srv.Close()

	client := NewClient("cid", "secret", srv.URL)
	_, err := client.SearchPage(context.Background(), "acc", `"golang"`, time.Time{}, "")
	var platformErr *domain.PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("ожидали *PlatformError, получили %v", err)
	}
	if !platformErr.IsRateLimited() {
		t.Fatalf("ожидали статус 429, получили %d", platformErr.StatusCode)
	}
	if platformErr.RateLimitReset.Unix() != reset {
		t.Fatalf("ожидали момент сброса лимита %d, получили %v", reset, platformErr.RateLimitReset)
	}
}
