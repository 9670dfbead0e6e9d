package repositories

import (
	"sort"
	"strings"

	"chat-engine/internal/models"
)

type scored struct {
	msg   models.Message
	score int
}

// relevance counts matched query tokens, plus a bonus when the whole query appears verbatim.
func relevance(body string, query string, tokens []string) int {
	body = strings.ToLower(body)
	score := 0
	for _, tok := range tokens {
		if strings.Contains(body, tok) {
			score++
		}
	}
	if score > 0 && len(tokens) > 1 && strings.Contains(body, query) {
		score += len(tokens)
	}
	return score
}

func searchTokens(query string) (string, []string) {
	q := strings.ToLower(strings.TrimSpace(query))
	return q, strings.Fields(q)
}

func matchesFilters(m models.Message, p SearchParams) bool {
	if m.Deleted() || m.Pending {
		return false
	}
	if p.SenderID != nil && m.SenderID != *p.SenderID {
		return false
	}
	if p.Type != "" && m.Content.Type != p.Type {
		return false
	}
	if p.From != nil && m.CreatedAt.Before(*p.From) {
		return false
	}
	if p.To != nil && m.CreatedAt.After(*p.To) {
		return false
	}
	return true
}

// rankResults orders by relevance then recency and truncates to limit.
func rankResults(results []scored, limit int) []models.Message {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].msg.ID > results[j].msg.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]models.Message, 0, len(results))
	for _, r := range results {
		out = append(out, r.msg)
	}
	return out
}
