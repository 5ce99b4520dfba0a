package ego

import (
	"context"
	"fmt"
	"time"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// Detector thresholds.
const (
	slowReplyThreshold     = 3 * time.Second
	topicShiftSimilarity   = 0.2
	topicShiftCount        = 2
	uniqueResponseRatio    = 0.7
	shortResponseChars     = 50
	shortResponseRatio     = 0.5
	defaultOveruseCount    = 1
	engagementDropRatio    = 0.7
	slowUserReplyThreshold = 10 * time.Minute
)

// AnalyzeConversation runs every quality detector over one
// conversation. Each detector fires at most one insight per run;
// de-dup at creation keeps repeat runs from piling up duplicates.
func (e *Engine) AnalyzeConversation(ctx context.Context, conversationID string) (int, error) {
	messages, err := e.Store.RecentMessages(ctx, conversationID, 50)
	if err != nil {
		return 0, fmt.Errorf("load messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	var user, assistant []store.MessageRecord
	for _, m := range messages {
		switch m.Sender {
		case store.SenderUser:
			user = append(user, m)
		case store.SenderAssistant:
			assistant = append(assistant, m)
		}
	}

	fired := 0
	emit := func(insightType, description string, value float64, count int) {
		_, err := e.CreateInsight(ctx, insightType, store.InsightPayload{
			Signal: &store.SignalInsight{
				ConversationID: conversationID,
				Description:    description,
				Value:          value,
				Count:          count,
			},
		}, "introspection", signalConfidence(insightType))
		if err != nil {
			e.Logger.Printf("conversation %s: %s insight: %v", conversationID, insightType, err)
			return
		}
		fired++
	}

	if mean, ok := meanResponseLatency(messages); ok && mean > slowReplyThreshold {
		emit(store.InsightResponseTime,
			fmt.Sprintf("average reply latency %.1fs", mean.Seconds()), mean.Seconds(), 0)
	}

	if shifts := topicShifts(user); shifts > topicShiftCount {
		emit(store.InsightTopicShift,
			fmt.Sprintf("%d topic shifts in recent messages", shifts), 0, shifts)
	}

	if len(assistant) > 0 {
		if ratio := uniqueRatio(assistant); ratio < uniqueResponseRatio {
			emit(store.InsightRepetitiveResponses,
				fmt.Sprintf("only %.0f%% of replies are unique", ratio*100), ratio, len(assistant))
		}
		if ratio := shortRatio(assistant); ratio > shortResponseRatio {
			emit(store.InsightShortResponses,
				fmt.Sprintf("%.0f%% of replies under %d chars", ratio*100, shortResponseChars), ratio, len(assistant))
		}
	}

	defaults, err := e.Store.CountDefaultResponseUses(ctx, conversationID)
	if err != nil {
		e.Logger.Printf("conversation %s: count default uses: %v", conversationID, err)
	} else if defaults > defaultOveruseCount {
		emit(store.InsightDefaultResponses,
			fmt.Sprintf("%d replies fell back to defaults", defaults), 0, defaults)
	}

	if len(user) >= 4 {
		if firstAvg, secondAvg := halfLengths(user); firstAvg > 0 && secondAvg < firstAvg*engagementDropRatio {
			emit(store.InsightDecreasingEngagement,
				fmt.Sprintf("user message length dropped from %.0f to %.0f chars", firstAvg, secondAvg),
				secondAvg/firstAvg, len(user))
		}
	}

	if len(user) >= 3 {
		if mean, ok := meanUserLatency(messages); ok && mean > slowUserReplyThreshold {
			emit(store.InsightSlowUserResponses,
				fmt.Sprintf("user takes %.1f minutes to reply on average", mean.Minutes()), mean.Minutes(), 0)
		}
	}

	return fired, nil
}

func signalConfidence(insightType string) float64 {
	switch insightType {
	case store.InsightRepetitiveResponses, store.InsightDefaultResponses:
		return 0.9
	case store.InsightResponseTime, store.InsightShortResponses:
		return 0.8
	case store.InsightTopicShift, store.InsightDecreasingEngagement:
		return 0.7
	case store.InsightSlowUserResponses:
		return 0.6
	default:
		return 0.5
	}
}

// meanResponseLatency averages user message to next assistant message
// gaps.
func meanResponseLatency(messages []store.MessageRecord) (time.Duration, bool) {
	var total time.Duration
	n := 0
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].Sender == store.SenderUser && messages[i+1].Sender == store.SenderAssistant {
			total += messages[i+1].CreatedAt.Sub(messages[i].CreatedAt)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return total / time.Duration(n), true
}

// meanUserLatency averages assistant message to next user message gaps.
func meanUserLatency(messages []store.MessageRecord) (time.Duration, bool) {
	var total time.Duration
	n := 0
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].Sender == store.SenderAssistant && messages[i+1].Sender == store.SenderUser {
			total += messages[i+1].CreatedAt.Sub(messages[i].CreatedAt)
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return total / time.Duration(n), true
}

func topicShifts(user []store.MessageRecord) int {
	shifts := 0
	for i := 1; i < len(user); i++ {
		if nlp.Jaccard(user[i-1].Content, user[i].Content) < topicShiftSimilarity {
			shifts++
		}
	}
	return shifts
}

func uniqueRatio(assistant []store.MessageRecord) float64 {
	seen := map[string]bool{}
	for _, m := range assistant {
		seen[m.Content] = true
	}
	return float64(len(seen)) / float64(len(assistant))
}

func shortRatio(assistant []store.MessageRecord) float64 {
	short := 0
	for _, m := range assistant {
		if len(m.Content) < shortResponseChars {
			short++
		}
	}
	return float64(short) / float64(len(assistant))
}

func halfLengths(user []store.MessageRecord) (firstAvg, secondAvg float64) {
	mid := len(user) / 2
	var first, second int
	for i, m := range user {
		if i < mid {
			first += len(m.Content)
		} else {
			second += len(m.Content)
		}
	}
	if mid > 0 {
		firstAvg = float64(first) / float64(mid)
	}
	if len(user)-mid > 0 {
		secondAvg = float64(second) / float64(len(user)-mid)
	}
	return firstAvg, secondAvg
}
