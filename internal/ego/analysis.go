package ego

import (
	"context"
	"fmt"
	"strings"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// AnalyzeMessage runs the message-level detectors the orchestrator
// notifies after a pipeline run: knowledge gaps behind unanswerable
// questions, repeated questions, and synthesis candidates.
func (e *Engine) AnalyzeMessage(ctx context.Context, messageID string) error {
	msg, ok, err := e.Store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}

	keywords := nlp.ExtractKeywords(msg.Content, 8)
	related, err := e.Store.SearchKnowledgeByKeywords(ctx, keywords, 10)
	if err != nil {
		return fmt.Errorf("related knowledge: %w", err)
	}

	if nlp.IsQuestion(msg.Content) {
		if err := e.detectKnowledgeGap(ctx, msg, keywords, len(related)); err != nil {
			return err
		}
		if err := e.detectRepeatedQuestion(ctx, msg); err != nil {
			return err
		}
	}
	return e.detectSynthesisCandidate(ctx, related)
}

// detectKnowledgeGap fires when a question lands on thin knowledge.
// Confidence scales down with how much related knowledge exists.
func (e *Engine) detectKnowledgeGap(ctx context.Context, msg store.MessageRecord, keywords []string, relatedCount int) error {
	if relatedCount >= 3 {
		return nil
	}
	topic := "this topic"
	if len(keywords) > 0 {
		topic = keywords[0]
	}
	confidence := 0.8 - 0.2*float64(relatedCount)
	_, err := e.CreateInsight(ctx, store.InsightKnowledgeGap, store.InsightPayload{
		Gap: &store.GapInsight{
			Topic:                 topic,
			Question:              msg.Content,
			RelatedKnowledgeCount: relatedCount,
		},
	}, "message:"+msg.ID, confidence)
	return err
}

// detectRepeatedQuestion flags a question the user already asked in
// this conversation.
func (e *Engine) detectRepeatedQuestion(ctx context.Context, msg store.MessageRecord) error {
	history, err := e.Store.RecentMessages(ctx, msg.ConversationID, 30)
	if err != nil {
		return fmt.Errorf("conversation history: %w", err)
	}
	repeats := 0
	for _, prev := range history {
		if prev.ID == msg.ID || prev.Sender != store.SenderUser {
			continue
		}
		if nlp.Jaccard(prev.Content, msg.Content) > 0.8 {
			repeats++
		}
	}
	if repeats == 0 {
		return nil
	}
	_, err = e.CreateInsight(ctx, store.InsightRepeatedQuestion, store.InsightPayload{
		Signal: &store.SignalInsight{
			ConversationID: msg.ConversationID,
			Description:    fmt.Sprintf("question repeated %d times: %s", repeats, truncate(msg.Content, 80)),
			Count:          repeats,
		},
	}, "message:"+msg.ID, 0.8)
	return err
}

// detectSynthesisCandidate proposes combining two solid knowledge rows
// that share key terms.
func (e *Engine) detectSynthesisCandidate(ctx context.Context, related []store.KnowledgeRecord) error {
	var solid []store.KnowledgeRecord
	for _, k := range related {
		if k.Confidence > 0.6 && k.Type != store.KnowledgeTypeOverride && k.Type != store.KnowledgeTypeGap {
			solid = append(solid, k)
		}
	}
	if len(solid) < 2 {
		return nil
	}
	a, b := solid[0], solid[1]
	if nlp.Jaccard(a.Content, b.Content) > 0.9 {
		// near-duplicates are consolidation's business, not synthesis
		return nil
	}
	content := strings.TrimSpace(a.Content)
	if !strings.HasSuffix(content, ".") {
		content += "."
	}
	content += " " + strings.TrimSpace(b.Content)
	_, err := e.CreateInsight(ctx, store.InsightSynthesizedKnowledge, store.InsightPayload{
		Synthesis: &store.SynthesisInsight{
			Content:   content,
			SourceIDs: []string{a.ID, b.ID},
		},
	}, "synthesis", 0.75)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
