package learning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// Confidence discounts by extraction reliability. Raw text is stored
// at base confidence; derived items cascade down from it.
const (
	baseConfidenceUserInput = 0.5
	baseConfidenceFeedback  = 0.8

	entityDiscount  = 0.9
	conceptDiscount = 0.8
	factDiscount    = 0.7
)

// ProcessUserInput replays a user_input task: the message is loaded by
// its persisted reference, stored raw, then mined for entities,
// concepts and facts.
func (m *Manager) ProcessUserInput(ctx context.Context, task store.LearningTaskRecord) error {
	msg, ok, err := m.Store.GetMessage(ctx, task.SourceID)
	if err != nil {
		return fmt.Errorf("load message %s: %w", task.SourceID, err)
	}
	if !ok {
		return fmt.Errorf("message %s: %w", task.SourceID, store.ErrNotFound)
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.1)

	source := "user:" + task.SourceID
	created, err := m.ingestText(ctx, task, msg.Content, source, store.KnowledgeTypeUserInput, baseConfidenceUserInput)
	if err != nil {
		return err
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.8)

	m.linkRelated(ctx, created)
	return nil
}

// ingestText persists the raw text and the extraction cascade, moving
// task progress through the intermediate checkpoints. It returns every
// created knowledge row.
func (m *Manager) ingestText(ctx context.Context, task store.LearningTaskRecord, text, source, rawType string, baseConfidence float64) ([]store.KnowledgeRecord, error) {
	var created []store.KnowledgeRecord

	raw, err := m.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
		Content:    text,
		Source:     source,
		Type:       rawType,
		Confidence: baseConfidence,
		Tags:       []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("store raw input: %w", err)
	}
	created = append(created, raw)
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.3)

	analysis := nlp.Analyze(text)

	for _, e := range analysis.Entities {
		content, err := json.Marshal(map[string]string{"entity": e.Text, "entityType": e.Type})
		if err != nil {
			return nil, err
		}
		rec, err := m.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
			Content:    string(content),
			Source:     source,
			Type:       store.KnowledgeTypeEntity,
			Confidence: baseConfidence * entityDiscount,
			Tags:       []string{"entity", e.Type},
		})
		if err != nil {
			return nil, fmt.Errorf("store entity: %w", err)
		}
		created = append(created, rec)
	}

	for _, c := range analysis.Concepts {
		rec, err := m.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
			Content:    c,
			Source:     source,
			Type:       store.KnowledgeTypeConcept,
			Confidence: baseConfidence * conceptDiscount,
			Tags:       []string{"concept"},
		})
		if err != nil {
			return nil, fmt.Errorf("store concept: %w", err)
		}
		created = append(created, rec)
	}

	for _, f := range analysis.Facts {
		rec, err := m.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
			Content:    f,
			Source:     source,
			Type:       store.KnowledgeTypeFact,
			Confidence: baseConfidence * factDiscount,
			Tags:       []string{"fact"},
		})
		if err != nil {
			return nil, fmt.Errorf("store fact: %w", err)
		}
		created = append(created, rec)
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.5)
	return created, nil
}

// linkRelated annotates new rows with related:<id> tags pointing at
// pre-existing similar knowledge. Annotation only; merging is the
// consolidation worker's job.
func (m *Manager) linkRelated(ctx context.Context, created []store.KnowledgeRecord) {
	newIDs := map[string]bool{}
	for _, rec := range created {
		newIDs[rec.ID] = true
	}
	for _, rec := range created {
		keywords := nlp.ExtractKeywords(rec.Content, 5)
		if len(keywords) == 0 {
			continue
		}
		similar, err := m.Store.SearchKnowledgeByKeywords(ctx, keywords, 5)
		if err != nil {
			m.Logger.Printf("link related for %s: %v", rec.ID, err)
			continue
		}
		var tags []string
		for _, s := range similar {
			if s.ID == rec.ID || newIDs[s.ID] {
				continue
			}
			tags = append(tags, "related:"+s.ID)
			if len(tags) >= 3 {
				break
			}
		}
		if len(tags) == 0 {
			continue
		}
		if err := m.Store.AddKnowledgeTags(ctx, rec.ID, tags); err != nil {
			m.Logger.Printf("tag related for %s: %v", rec.ID, err)
		}
	}
}
