// Package analysis scores chat sessions for mood, engagement and topics. The
// matchmaking core invokes a Provider fire-and-forget after every few
// messages; failures are swallowed and never reach the chat flow.
package analysis

import (
	"context"
	"strings"
	"time"

	"anonpair/backend/internal/models"
)

// InsightRecord is the fixed analysis contract. A real language-model backend
// can replace the keyword provider without touching the core.
type InsightRecord struct {
	SessionID       string    `json:"session_id"`
	InterestScore   int       `json:"interest_score"`   // 0..100
	EngagementLevel int       `json:"engagement_level"` // 0..100
	Vibe            string    `json:"vibe"`             // "enthusiastic", "casual", "brief", "formal"
	Sentiment       string    `json:"sentiment"`        // "excited", "happy", "neutral", "sad", "angry"
	Topics          []string  `json:"topics"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// Provider analyzes the recent messages of a session.
type Provider interface {
	Analyze(ctx context.Context, sessionID string, messages []models.ChatHistory) (*InsightRecord, error)
}

// topicKeywords maps topic labels to trigger words.
var topicKeywords = map[string][]string{
	"Music":      {"music", "song", "band", "playlist"},
	"Movies":     {"movie", "film", "cinema", "netflix"},
	"Travel":     {"travel", "trip", "vacation"},
	"Sports":     {"sport", "football", "basketball"},
	"Food":       {"food", "cooking", "restaurant"},
	"Books":      {"book", "reading", "novel"},
	"Technology": {"tech", "computer", "programming"},
}

// KeywordProvider is the default heuristic backend: literal keyword scans,
// no real natural-language understanding.
type KeywordProvider struct{}

func NewKeywordProvider() *KeywordProvider { return &KeywordProvider{} }

func (p *KeywordProvider) Analyze(ctx context.Context, sessionID string, messages []models.ChatHistory) (*InsightRecord, error) {
	rec := &InsightRecord{
		SessionID:  sessionID,
		Sentiment:  "neutral",
		Vibe:       "casual",
		AnalyzedAt: time.Now(),
	}

	seen := make(map[string]bool)
	totalWords := 0
	for i := range messages {
		msg := &messages[i]
		if msg.Type != models.MessageText {
			continue
		}
		lower := strings.ToLower(msg.Content)
		totalWords += len(strings.Fields(lower))

		for topic, words := range topicKeywords {
			if seen[topic] {
				continue
			}
			for _, w := range words {
				if strings.Contains(lower, w) {
					rec.Topics = append(rec.Topics, topic)
					seen[topic] = true
					break
				}
			}
		}

		if s := sentimentOf(lower); s != "neutral" {
			rec.Sentiment = s
		}
		rec.Vibe = vibeOf(msg.Content, lower)
	}

	rec.InterestScore = clamp(len(rec.Topics)*20 + len(messages)*5)
	rec.EngagementLevel = engagementOf(len(messages), totalWords)
	return rec, nil
}

func sentimentOf(lower string) string {
	switch {
	case containsAny(lower, "amazing", "awesome", "love"):
		return "excited"
	case containsAny(lower, "happy", "good", "great"):
		return "happy"
	case containsAny(lower, "sad", "bad", "terrible"):
		return "sad"
	case containsAny(lower, "angry", "mad", "furious"):
		return "angry"
	}
	return "neutral"
}

func vibeOf(raw, lower string) string {
	switch {
	case strings.Contains(raw, "!") && len(raw) > 20:
		return "enthusiastic"
	case len(raw) < 10:
		return "brief"
	case containsAny(lower, "please", "thank you"):
		return "formal"
	}
	return "casual"
}

// engagementOf starts at a neutral 50 and moves with volume: more messages
// and longer messages read as higher engagement.
func engagementOf(messageCount, totalWords int) int {
	level := 50
	if messageCount > 0 {
		avg := totalWords / messageCount
		if avg > 10 {
			level += 15
		} else if avg < 3 {
			level -= 10
		}
	}
	if messageCount >= 10 {
		level += 20
	} else if messageCount >= 5 {
		level += 10
	}
	return clamp(level)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
