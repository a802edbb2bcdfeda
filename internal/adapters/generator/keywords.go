package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"tweet-scout/internal/domain"
	openai "tweet-scout/internal/infra/openai"
)

// KeywordAdvisor подбирает замены ключевым словам без находок.
type KeywordAdvisor struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

// NewKeywordAdvisor создаёт советника по ключевым словам.
func NewKeywordAdvisor(client chatCompletionClient, model string, timeout time.Duration) *KeywordAdvisor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &KeywordAdvisor{client: client, model: model, timeout: timeout}
}

type keywordSuggestionsResponse struct {
	Keywords []string `json:"keywords"`
}

// SuggestKeywords возвращает замены для мёртвых ключевых слов. Ответ модели
// разбирается строго: не-JSON считается ошибкой, а не пустым результатом.
func (a *KeywordAdvisor) SuggestKeywords(ctx context.Context, dead []string, hits map[string]int, reference string) ([]string, error) {
	if len(dead) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type hit struct {
		Keyword string `json:"keyword"`
		Count   int    `json:"count"`
	}
	stats := make([]hit, 0, len(hits))
	for keyword, count := range hits {
		stats = append(stats, hit{Keyword: keyword, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Keyword < stats[j].Keyword })
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("marshal hits: %w", err)
	}

	userPrompt := fmt.Sprintf(`Business context of the account:
%s

Tracked keyword hit counts over the recent window:
%s

These keywords produced zero matches: %s.

Suggest up to %d replacement keywords that fit the business context and are
likely to appear in real social media posts. Respond strictly as JSON:
{"keywords": ["..."]}.`, reference, string(statsJSON), strings.Join(dead, ", "), len(dead))

	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.5,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You refine keyword lists for social listening. Suggest only short, concrete phrases.",
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

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: пустой ответ")
	}
	var parsed keywordSuggestionsResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	out := make([]string, 0, len(parsed.Keywords))
	seen := make(map[string]struct{}, len(parsed.Keywords))
	for _, keyword := range parsed.Keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		lower := strings.ToLower(keyword)
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, keyword)
	}
	return out, nil
}

var _ domain.KeywordAdvisor = (*KeywordAdvisor)(nil)
