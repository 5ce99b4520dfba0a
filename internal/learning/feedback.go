package learning

import (
	"context"
	"fmt"
	"strings"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// RatingDelta maps a 1-5 rating to a confidence adjustment. The table
// is deliberately asymmetric: negative signals cut harder than
// positive ones reinforce.
func RatingDelta(rating int) float64 {
	switch {
	case rating <= 1:
		return -0.25
	case rating == 2:
		return -0.15
	case rating == 3:
		return -0.05
	case rating == 4:
		return 0.1
	default:
		return 0.15
	}
}

// ProcessFeedback replays a feedback task: adjust the confidence of
// knowledge behind the rated reply, create an override record for
// strongly negative ratings, and ingest any free-text correction.
func (m *Manager) ProcessFeedback(ctx context.Context, task store.LearningTaskRecord) error {
	fb, ok, err := m.Store.GetFeedback(ctx, task.SourceID)
	if err != nil {
		return fmt.Errorf("load feedback %s: %w", task.SourceID, err)
	}
	if !ok {
		return fmt.Errorf("feedback %s: %w", task.SourceID, store.ErrNotFound)
	}
	msg, ok, err := m.Store.GetMessage(ctx, fb.MessageID)
	if err != nil {
		return fmt.Errorf("load rated message %s: %w", fb.MessageID, err)
	}
	if !ok {
		return fmt.Errorf("rated message %s: %w", fb.MessageID, store.ErrNotFound)
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.1)

	if fb.Rating != nil {
		delta := RatingDelta(*fb.Rating)
		affected, err := m.knowledgeBehindMessage(ctx, msg.Content)
		if err != nil {
			return err
		}
		for _, k := range affected {
			if _, err := m.Store.AdjustKnowledgeConfidence(ctx, k.ID, delta); err != nil {
				m.Logger.Printf("adjust %s by %.2f: %v", k.ID, delta, err)
			}
		}
		_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.5)

		if *fb.Rating <= 2 {
			if err := m.createOverride(ctx, fb, msg); err != nil {
				return err
			}
		}
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.8)

	if strings.TrimSpace(fb.FeedbackText) != "" {
		created, err := m.ingestText(ctx, task, fb.FeedbackText, "feedback:"+fb.ID, store.KnowledgeTypeFeedback, baseConfidenceFeedback)
		if err != nil {
			return err
		}
		m.linkRelated(ctx, created)
	}
	return nil
}

// knowledgeBehindMessage finds rows whose content overlaps the rated
// reply's leading sentences or shares its keywords.
func (m *Manager) knowledgeBehindMessage(ctx context.Context, content string) ([]store.KnowledgeRecord, error) {
	var out []store.KnowledgeRecord
	seen := map[string]bool{}

	sentences := nlp.SplitSentences(content)
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	for _, sentence := range sentences {
		probe := sentence
		if len(probe) > 100 {
			probe = probe[:100]
		}
		matches, err := m.Store.SearchKnowledgeSubstring(ctx, probe, 10)
		if err != nil {
			return nil, fmt.Errorf("match leading sentences: %w", err)
		}
		for _, k := range matches {
			if !seen[k.ID] {
				seen[k.ID] = true
				out = append(out, k)
			}
		}
	}

	keywords := nlp.ExtractKeywords(content, 8)
	if len(keywords) > 0 {
		matches, err := m.Store.SearchKnowledgeByKeywords(ctx, keywords, 10)
		if err != nil {
			return nil, fmt.Errorf("match keywords: %w", err)
		}
		for _, k := range matches {
			if !seen[k.ID] {
				seen[k.ID] = true
				out = append(out, k)
			}
		}
	}
	return out, nil
}

// createOverride records that this specific reply was rejected so the
// generator can avoid repeating it.
func (m *Manager) createOverride(ctx context.Context, fb store.FeedbackRecord, msg store.MessageRecord) error {
	_, err := m.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
		Content:    msg.Content,
		Source:     "feedback:" + fb.ID,
		Type:       store.KnowledgeTypeOverride,
		Confidence: 0.85,
		Tags: []string{
			"override",
			"negative_feedback",
			"message:" + msg.ID,
			"conversation:" + msg.ConversationID,
		},
	})
	if err != nil {
		return fmt.Errorf("create override: %w", err)
	}
	return nil
}
