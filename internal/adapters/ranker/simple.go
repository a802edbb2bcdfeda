package ranker

import (
	"context"
	"sort"
	"time"

	"tweet-scout/internal/domain"
)

// SimpleRanker применяет эвристический скоринг по метрикам вовлечённости
// и свежести. Используется как запасной вариант, когда LLM недоступна.
type SimpleRanker struct {
	MaxItems          int
	MaxFreshnessHours float64
}

// NewSimple создаёт ранжировщик.
func NewSimple(maxItems int, maxFreshnessHours float64) *SimpleRanker {
	if maxItems <= 0 {
		maxItems = 10
	}
	if maxFreshnessHours <= 0 {
		maxFreshnessHours = 48
	}
	return &SimpleRanker{MaxItems: maxItems, MaxFreshnessHours: maxFreshnessHours}
}

// Rank оценивает посты и возвращает top-K по убыванию скора.
func (r *SimpleRanker) Rank(_ context.Context, items []domain.TrackedItem, _ string) ([]domain.TrackedItem, error) {
	items = DeduplicateByExternalID(items)
	if len(items) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	type scored struct {
		item  domain.TrackedItem
		score float64
	}
	ranked := make([]scored, 0, len(items))
	for _, item := range items {
		engagement := float64(item.LikeCount) + 2*float64(item.RetweetCount) + 1.5*float64(item.ReplyCount) + float64(item.QuoteCount)
		reach := float64(item.ImpressionCount) / 1000
		fresh := now.Sub(item.PostedAt).Hours()
		freshScore := 0.0
		if fresh >= 0 {
			freshScore = 1 - minFloat(fresh/r.MaxFreshnessHours, 1)
		}
		score := 0.5*engagement + 0.3*reach + 0.2*freshScore*100
		ranked = append(ranked, scored{item: item, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	limit := r.MaxItems
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]domain.TrackedItem, 0, limit)
	for _, s := range ranked[:limit] {
		out = append(out, s.item)
	}
	return out, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// DeduplicateByExternalID удаляет посты с одинаковым внешним идентификатором.
func DeduplicateByExternalID(items []domain.TrackedItem) []domain.TrackedItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]domain.TrackedItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ExternalID]; ok {
			continue
		}
		seen[item.ExternalID] = struct{}{}
		out = append(out, item)
	}
	return out
}
