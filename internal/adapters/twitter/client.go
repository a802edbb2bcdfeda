package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

const defaultBaseURL = "https://api.twitter.com"

const pageSize = 100

// Client реализует domain.Platform поверх X API v2.
type Client struct {
	http         *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

// NewClient создаёт клиента платформы.
func NewClient(clientID, clientSecret, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshOAuthToken обменивает refresh-токен на новую пару токенов.
func (c *Client) RefreshOAuthToken(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)

	endpoint := c.baseURL + "/2/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("twitter: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", "oauth2_token", "token", start, err)
		return domain.TokenGrant{}, fmt.Errorf("twitter: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", "oauth2_token", "token", start, err)
		return domain.TokenGrant{}, fmt.Errorf("twitter: read token response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var oauthErr oauthErrorResponse
		_ = json.Unmarshal(body, &oauthErr)
		platformErr := &domain.PlatformError{
			StatusCode:     resp.StatusCode,
			Code:           oauthErr.Error,
			Message:        oauthErr.ErrorDescription,
			RateLimitReset: rateLimitReset(resp.Header),
		}
		if platformErr.Message == "" {
			platformErr.Message = fmt.Sprintf("token endpoint returned %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("twitter", "oauth2_token", "token", start, platformErr)
		return domain.TokenGrant{}, platformErr
	}
	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		metrics.ObserveNetworkRequest("twitter", "oauth2_token", "token", start, err)
		return domain.TokenGrant{}, fmt.Errorf("twitter: decode token response: %w", err)
	}
	metrics.ObserveNetworkRequest("twitter", "oauth2_token", "token", start, nil)
	return domain.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

// MentionsPage возвращает страницу упоминаний аккаунта.
func (c *Client) MentionsPage(ctx context.Context, accessToken, platformUserID, cursor string) (domain.Page, error) {
	params := basePageParams(cursor)
	endpoint := fmt.Sprintf("%s/2/users/%s/mentions", c.baseURL, url.PathEscape(platformUserID))
	return c.fetchPage(ctx, accessToken, "mentions", endpoint, params)
}

// SearchPage возвращает страницу недавнего поиска по запросу.
func (c *Client) SearchPage(ctx context.Context, accessToken, query string, since time.Time, cursor string) (domain.Page, error) {
	params := basePageParams(cursor)
	params.Set("query", query)
	if !since.IsZero() {
		params.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	endpoint := c.baseURL + "/2/tweets/search/recent"
	return c.fetchPage(ctx, accessToken, "search_recent", endpoint, params)
}

// TimelinePage возвращает страницу собственных постов аккаунта.
func (c *Client) TimelinePage(ctx context.Context, accessToken, platformUserID string, since time.Time, cursor string) (domain.Page, error) {
	params := basePageParams(cursor)
	if !since.IsZero() {
		params.Set("start_time", since.UTC().Format(time.RFC3339))
	}
	endpoint := fmt.Sprintf("%s/2/users/%s/tweets", c.baseURL, url.PathEscape(platformUserID))
	return c.fetchPage(ctx, accessToken, "user_tweets", endpoint, params)
}

func basePageParams(cursor string) url.Values {
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(pageSize))
	params.Set("tweet.fields", "created_at,public_metrics,referenced_tweets,author_id")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username,name,profile_image_url")
	if cursor != "" {
		params.Set("pagination_token", cursor)
	}
	return params
}

type pageResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		AuthorID      string `json:"author_id"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount    int `json:"retweet_count"`
			ReplyCount      int `json:"reply_count"`
			LikeCount       int `json:"like_count"`
			QuoteCount      int `json:"quote_count"`
			ImpressionCount int `json:"impression_count"`
		} `json:"public_metrics"`
		ReferencedTweets []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"referenced_tweets"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID              string `json:"id"`
			Username        string `json:"username"`
			Name            string `json:"name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Type   string `json:"type"`
	} `json:"errors"`
}

func (c *Client) fetchPage(ctx context.Context, accessToken, operation, endpoint string, params url.Values) (domain.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return domain.Page{}, fmt.Errorf("twitter: build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", operation, "api", start, err)
		return domain.Page{}, fmt.Errorf("twitter: %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", operation, "api", start, err)
		return domain.Page{}, fmt.Errorf("twitter: read %s response: %w", operation, err)
	}
	if resp.StatusCode >= 400 {
		platformErr := &domain.PlatformError{
			StatusCode:     resp.StatusCode,
			RateLimitReset: rateLimitReset(resp.Header),
		}
		var parsed pageResponse
		if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
			platformErr.Code = parsed.Errors[0].Type
			platformErr.Message = parsed.Errors[0].Detail
		}
		if platformErr.Message == "" {
			platformErr.Message = fmt.Sprintf("%s returned %d", operation, resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("twitter", operation, "api", start, platformErr)
		return domain.Page{}, platformErr
	}

	var parsed pageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		metrics.ObserveNetworkRequest("twitter", operation, "api", start, err)
		return domain.Page{}, fmt.Errorf("twitter: decode %s response: %w", operation, err)
	}
	metrics.ObserveNetworkRequest("twitter", operation, "api", start, nil)

	page := domain.Page{NextCursor: parsed.Meta.NextToken}
	for _, tweet := range parsed.Data {
		item := domain.PlatformItem{
			ID:              tweet.ID,
			Text:            tweet.Text,
			AuthorID:        tweet.AuthorID,
			LikeCount:       tweet.PublicMetrics.LikeCount,
			RetweetCount:    tweet.PublicMetrics.RetweetCount,
			ReplyCount:      tweet.PublicMetrics.ReplyCount,
			QuoteCount:      tweet.PublicMetrics.QuoteCount,
			ImpressionCount: tweet.PublicMetrics.ImpressionCount,
		}
		if tweet.CreatedAt != "" {
			if postedAt, err := time.Parse(time.RFC3339, tweet.CreatedAt); err == nil {
				item.PostedAt = postedAt
			}
		}
		for _, ref := range tweet.ReferencedTweets {
			if ref.Type == "retweeted" {
				item.IsRetweet = true
			}
			if item.ReferencedID == "" {
				item.ReferencedID = ref.ID
			}
		}
		page.Items = append(page.Items, item)
	}
	for _, user := range parsed.Includes.Users {
		page.Authors = append(page.Authors, domain.Author{
			ID:        user.ID,
			Username:  user.Username,
			Name:      user.Name,
			AvatarURL: user.ProfileImageURL,
		})
	}
	return page, nil
}

// rateLimitReset извлекает момент сброса лимита из заголовка ответа.
func rateLimitReset(header http.Header) time.Time {
	raw := header.Get("x-rate-limit-reset")
	if raw == "" {
		return time.Time{}
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}
