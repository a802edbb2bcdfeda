package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tweet-scout/internal/domain"
	openai "tweet-scout/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMRanker отбирает посты, наиболее релевантные бизнес-контексту аккаунта,
// с помощью LLM. При ошибке модели делегирует эвристическому ранжировщику.
type LLMRanker struct {
	client   chatCompletionClient
	fallback domain.Ranker
	model    string
	timeout  time.Duration
	maxItems int
}

// NewLLM создаёт ранжировщик на базе OpenAI Chat Completions.
func NewLLM(client chatCompletionClient, fallback domain.Ranker, model string, timeout time.Duration, maxItems int) *LLMRanker {
	if maxItems <= 0 {
		maxItems = 10
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMRanker{client: client, fallback: fallback, model: model, timeout: timeout, maxItems: maxItems}
}

type llmItemPayload struct {
	ID          int    `json:"id"`
	Author      string `json:"author"`
	PostedAt    string `json:"posted_at"`
	Likes       int    `json:"likes"`
	Retweets    int    `json:"retweets"`
	Replies     int    `json:"replies"`
	Impressions int    `json:"impressions"`
	Text        string `json:"text"`
}

type llmRankResponse struct {
	Items []llmRankedRef `json:"items"`
}

type llmRankedRef struct {
	ItemID json.Number `json:"item_id"`
}

// Rank отбирает до maxItems постов, релевантных описанию reference.
func (r *LLMRanker) Rank(ctx context.Context, items []domain.TrackedItem, reference string) ([]domain.TrackedItem, error) {
	items = DeduplicateByExternalID(items)
	if len(items) == 0 {
		return nil, nil
	}

	payload := make([]llmItemPayload, 0, len(items))
	itemMap := make(map[int]domain.TrackedItem, len(items))
	for idx, item := range items {
		id := idx + 1
		itemMap[id] = item
		payload = append(payload, llmItemPayload{
			ID:          id,
			Author:      item.AuthorUsername,
			PostedAt:    item.PostedAt.UTC().Format(time.RFC3339),
			Likes:       item.LikeCount,
			Retweets:    item.RetweetCount,
			Replies:     item.ReplyCount,
			Impressions: item.ImpressionCount,
			Text:        truncate(item.Text, 1000),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`You are helping a social media manager decide which posts to engage with.

Business context of the account:
%s

From the posts below, pick up to %d posts that are the best candidates for a thoughtful reply: relevant to the business context, likely to gain visibility, and written by real people rather than bots. Use the "id" field from the input as "item_id" and do not invent new identifiers.

Respond strictly as JSON: {"items": [{"item_id": 1}]}.

Posts as JSON:
%s`, reference, r.maxItems, string(body))

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0.2,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You rank social media posts for engagement. Base every decision only on the provided data.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return r.rankFallback(ctx, items, reference, err)
	}
	if len(resp.Choices) == 0 {
		return r.rankFallback(ctx, items, reference, fmt.Errorf("openai completion: пустой ответ"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed llmRankResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return r.rankFallback(ctx, items, reference, fmt.Errorf("распаковка ответа LLM: %w", err))
	}

	out := make([]domain.TrackedItem, 0, r.maxItems)
	seen := make(map[int]struct{}, len(parsed.Items))
	for _, ref := range parsed.Items {
		if len(out) >= r.maxItems {
			break
		}
		id64, err := ref.ItemID.Int64()
		if err != nil {
			continue
		}
		id := int(id64)
		if _, ok := seen[id]; ok {
			continue
		}
		item, ok := itemMap[id]
		if !ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return r.rankFallback(ctx, items, reference, fmt.Errorf("LLM не выбрала ни одного поста"))
	}
	return out, nil
}

func (r *LLMRanker) rankFallback(ctx context.Context, items []domain.TrackedItem, reference string, cause error) ([]domain.TrackedItem, error) {
	if r.fallback == nil {
		return nil, cause
	}
	return r.fallback.Rank(ctx, items, reference)
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
