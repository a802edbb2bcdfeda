package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tweet-scout/internal/domain"
	openai "tweet-scout/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator готовит черновики ответов через Chat Completions.
type OpenAIGenerator struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

// NewOpenAI создаёт генератор ответов.
func NewOpenAI(client chatCompletionClient, model string, timeout time.Duration) *OpenAIGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIGenerator{client: client, model: model, timeout: timeout}
}

// GenerateReply готовит черновик ответа на пост в заданной тональности.
func (g *OpenAIGenerator) GenerateReply(ctx context.Context, item domain.TrackedItem, engagement domain.EngagementType, reference string) (domain.GeneratedReply, error) {
	tone, err := domain.ToneFor(engagement)
	if err != nil {
		return domain.GeneratedReply{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Business context of the account:
%s

Post to reply to (by @%s):
%s

Write one reply draft in the %s engagement style: %s

Rules:
- The reply must be under 280 characters and sound like a real person.
- No hashtags, no emojis unless the style calls for humor.
- Answer with exactly one line in the format: 1. [%s]: <reply text>`,
		reference, item.AuthorUsername, item.Text, engagement, tone, engagement)

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You draft short social media replies that a human operator will review before posting.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.GeneratedReply{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.GeneratedReply{}, fmt.Errorf("openai completion: пустой ответ")
	}
	parsed, err := ParseReply(strings.TrimSpace(resp.Choices[0].Message.Content))
	if err != nil {
		return domain.GeneratedReply{}, fmt.Errorf("разбор ответа модели: %w", err)
	}

	return domain.GeneratedReply{
		ItemExternalID: item.ExternalID,
		Engagement:     engagement,
		ReplyType:      parsed.ReplyType,
		Text:           parsed.Text,
		Prepared:       true,
	}, nil
}
