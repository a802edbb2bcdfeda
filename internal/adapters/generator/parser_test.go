package generator

import (
	"context"
	"strings"
	"testing"
	"time"

	"tweet-scout/internal/domain"
	openai "tweet-scout/internal/infra/openai"
)

func TestParseReply(t *testing.T) {
	parsed, err := ParseReply("1. [AUTHORITY]: Отличный вопрос, вот что мы видели на практике.")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if parsed.ReplyType != "AUTHORITY" {
		t.Fatalf("неожиданный тип: %q", parsed.ReplyType)
	}
	if !strings.HasPrefix(parsed.Text, "Отличный вопрос") {
		t.Fatalf("неожиданный текст: %q", parsed.Text)
	}
}

func TestParseReplySkipsLeadingBlankLines(t *testing.T) {
	parsed, err := ParseReply("\n\n  2. [HUMOR]: Смешно, но правда.")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if parsed.ReplyType != "HUMOR" || parsed.Text != "Смешно, но правда." {
		t.Fatalf("неожиданный результат: %+v", parsed)
	}
}

func TestParseReplyRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"просто текст без формата",
		"1. AUTHORITY: без скобок",
		"1. []: пустой тип",
		"1. [AUTHORITY]:",
		"[AUTHORITY]: без номера",
	}
	for _, input := range cases {
		if _, err := ParseReply(input); err == nil {
			t.Fatalf("ожидали ошибку для %q", input)
		}
	}
}

type stubChatClient struct {
	content string
}

func (s *stubChatClient) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: s.content}}},
	}, nil
}

func TestGenerateReply(t *testing.T) {
	client := &stubChatClient{content: "1. [QUESTION]: А как вы решаете это сейчас?"}
	g := NewOpenAI(client, "gpt-4o-mini", time.Minute)
	item := domain.TrackedItem{ExternalID: "100", AuthorUsername: "alice", Text: "замучились с интеграциями"}
	reply, err := g.GenerateReply(context.Background(), item, domain.EngagementQuestion, "B2B SaaS")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if reply.ItemExternalID != "100" || reply.Engagement != domain.EngagementQuestion {
		t.Fatalf("неожиданный черновик: %+v", reply)
	}
	if !reply.Prepared || reply.Text == "" {
		t.Fatalf("ожидали подготовленный черновик: %+v", reply)
	}
}

func TestGenerateReplyFailsOnMalformedModelOutput(t *testing.T) {
	client := &stubChatClient{content: "вот ваш ответ: привет"}
	g := NewOpenAI(client, "gpt-4o-mini", time.Minute)
	_, err := g.GenerateReply(context.Background(), domain.TrackedItem{ExternalID: "1"}, domain.EngagementHumor, "")
	if err == nil {
		t.Fatalf("ожидали ошибку разбора")
	}
}

func TestGenerateReplyRejectsUnknownEngagement(t *testing.T) {
	client := &stubChatClient{content: "1. [X]: текст"}
	g := NewOpenAI(client, "gpt-4o-mini", time.Minute)
	_, err := g.GenerateReply(context.Background(), domain.TrackedItem{}, domain.EngagementType("UNKNOWN"), "")
	if err == nil {
		t.Fatalf("ожидали ошибку для неизвестного типа вовлечения")
	}
}
