package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fluxion/voice-agent/internal/domain"
)

const (
	failedConfidence  = 0.7
	failedFrustration = 2
	maxFailedQueries  = 50
)

// Analytics is derived from stored sessions at read time.
type Analytics struct {
	Since                   time.Time      `json:"since"`
	TotalConversations      int            `json:"total_conversations"`
	TotalTurns              int            `json:"total_turns"`
	AvgTurnsPerConversation float64        `json:"avg_turns_per_conversation"`
	AvgLatencyMs            float64        `json:"avg_latency_ms"`
	LLMUsagePct             float64        `json:"llm_usage_pct"`
	EscalationRate          float64        `json:"escalation_rate"`
	CompletionRate          float64        `json:"completion_rate"`
	IntentDistribution      map[string]int `json:"intent_distribution"`
	LayerDistribution       map[string]int `json:"layer_distribution"`
	PeakHours               [24]int        `json:"peak_hours"`
	FailedQueries           []FailedQuery  `json:"failed_queries"`
}

// FailedQuery is a turn the deterministic layers handled poorly.
type FailedQuery struct {
	SessionID   string    `json:"session_id"`
	Timestamp   time.Time `json:"timestamp"`
	UserInput   string    `json:"user_input"`
	Intent      string    `json:"intent"`
	Layer       string    `json:"layer"`
	Confidence  float64   `json:"confidence"`
	Frustration int       `json:"frustration"`
}

// Analytics computes the report for sessions created since.
func (m *Manager) Analytics(ctx context.Context, since time.Time, loc *time.Location) (Analytics, error) {
	sessions, err := m.store.SessionsSince(ctx, since.UTC())
	if err != nil {
		return Analytics{}, fmt.Errorf("session: analytics: %w", err)
	}
	a := ComputeAnalytics(sessions, loc)
	a.Since = since
	return a, nil
}

// ComputeAnalytics aggregates sessions. Peak hours are bucketed in loc.
func ComputeAnalytics(sessions []*domain.Session, loc *time.Location) Analytics {
	if loc == nil {
		loc = time.UTC
	}
	a := Analytics{
		IntentDistribution: map[string]int{},
		LayerDistribution:  map[string]int{},
		FailedQueries:      []FailedQuery{},
	}
	var latency int64
	var llm, escalated, completed int

	for _, s := range sessions {
		a.TotalConversations++
		switch {
		case s.State == domain.SessionEscalated:
			escalated++
		case s.Outcome == domain.OutcomeBookingCreated || s.Outcome == domain.OutcomeWaitlistAdded:
			completed++
		}
		for _, t := range s.Turns {
			a.TotalTurns++
			latency += t.LatencyMs
			if t.UsedLLM {
				llm++
			}
			a.IntentDistribution[string(t.Intent)]++
			a.LayerDistribution[string(t.Layer)]++
			a.PeakHours[t.Timestamp.In(loc).Hour()]++
			if t.Layer == domain.LayerLLM || t.IntentConfidence < failedConfidence || t.FrustrationLevel >= failedFrustration {
				a.FailedQueries = append(a.FailedQueries, FailedQuery{
					SessionID:   s.ID,
					Timestamp:   t.Timestamp,
					UserInput:   t.UserInput,
					Intent:      string(t.Intent),
					Layer:       string(t.Layer),
					Confidence:  t.IntentConfidence,
					Frustration: t.FrustrationLevel,
				})
			}
		}
	}

	if a.TotalConversations > 0 {
		n := float64(a.TotalConversations)
		a.AvgTurnsPerConversation = round2(float64(a.TotalTurns) / n)
		a.EscalationRate = round2(float64(escalated) / n)
		a.CompletionRate = round2(float64(completed) / n)
	}
	if a.TotalTurns > 0 {
		a.AvgLatencyMs = round2(float64(latency) / float64(a.TotalTurns))
		a.LLMUsagePct = round2(100 * float64(llm) / float64(a.TotalTurns))
	}

	sort.Slice(a.FailedQueries, func(i, j int) bool {
		return a.FailedQueries[i].Timestamp.After(a.FailedQueries[j].Timestamp)
	})
	if len(a.FailedQueries) > maxFailedQueries {
		a.FailedQueries = a.FailedQueries[:maxFailedQueries]
	}
	return a
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
