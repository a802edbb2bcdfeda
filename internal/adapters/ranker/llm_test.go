package ranker

import (
	"context"
	"errors"
	"testing"
	"time"

	"tweet-scout/internal/domain"
	openai "tweet-scout/internal/infra/openai"
)

type stubChatClient struct {
	content string
	err     error
}

func (s *stubChatClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}},
	}, nil
}

func sampleItems() []domain.TrackedItem {
	now := time.Now().UTC()
	return []domain.TrackedItem{
		{ExternalID: "1", Text: "про запуск продукта", LikeCount: 5, PostedAt: now},
		{ExternalID: "2", Text: "мемы про котов", LikeCount: 100, PostedAt: now},
		{ExternalID: "3", Text: "вопрос про интеграцию", ReplyCount: 3, PostedAt: now},
	}
}

func TestLLMRankerPicksByModelResponse(t *testing.T) {
	client := &stubChatClient{content: `{"items":[{"item_id":3},{"item_id":1}]}`}
	r := NewLLM(client, nil, "gpt-4o-mini", time.Minute, 10)
	ranked, err := r.Rank(context.Background(), sampleItems(), "B2B SaaS для интеграций")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", len(ranked))
	}
	if ranked[0].ExternalID != "3" || ranked[1].ExternalID != "1" {
		t.Fatalf("неожиданный порядок: %v, %v", ranked[0].ExternalID, ranked[1].ExternalID)
	}
}

func TestLLMRankerIgnoresUnknownIDs(t *testing.T) {
	client := &stubChatClient{content: `{"items":[{"item_id":99},{"item_id":2},{"item_id":2}]}`}
	r := NewLLM(client, nil, "gpt-4o-mini", time.Minute, 10)
	ranked, err := r.Rank(context.Background(), sampleItems(), "контекст")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ranked) != 1 || ranked[0].ExternalID != "2" {
		t.Fatalf("ожидали единственный пост 2, получили %+v", ranked)
	}
}

func TestLLMRankerFallsBackOnError(t *testing.T) {
	client := &stubChatClient{err: errors.New("модель недоступна")}
	r := NewLLM(client, NewSimple(2, 48), "gpt-4o-mini", time.Minute, 2)
	ranked, err := r.Rank(context.Background(), sampleItems(), "контекст")
	if err != nil {
		t.Fatalf("ожидали фолбэк без ошибки: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("ожидали 2 поста из фолбэка, получили %d", len(ranked))
	}
	if ranked[0].ExternalID != "2" {
		t.Fatalf("ожидали самый вовлекающий пост первым, получили %v", ranked[0].ExternalID)
	}
}

func TestSimpleRankerDeduplicates(t *testing.T) {
	items := append(sampleItems(), domain.TrackedItem{ExternalID: "2", Text: "дубль", PostedAt: time.Now().UTC()})
	r := NewSimple(10, 48)
	ranked, err := r.Rank(context.Background(), items, "")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("ожидали 3 уникальных поста, получили %d", len(ranked))
	}
}
