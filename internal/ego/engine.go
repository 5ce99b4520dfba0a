// Package ego owns the insight lifecycle: creation with de-dup,
// confidence-gated application, consolidation of the knowledge base
// and conversational introspection.
package ego

import (
	"context"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/DmitriStark/MyAI/internal/store"
)

var insightsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "myai_insights_applied_total",
	Help: "Insights applied, by type.",
}, []string{"type"})

type Engine struct {
	Store  *store.Store
	Rdb    *redis.Client
	Logger *log.Logger
}

func NewEngine(st *store.Store, rdb *redis.Client) *Engine {
	return &Engine{
		Store:  st,
		Rdb:    rdb,
		Logger: log.New(log.Writer(), "[EGO] ", log.LstdFlags),
	}
}

// CreateInsight records an observation, de-duplicated on (type,
// content). High-confidence insights (>0.9) are applied immediately
// instead of waiting for the hourly sweep.
func (e *Engine) CreateInsight(ctx context.Context, insightType string, payload store.InsightPayload, source string, confidence float64) (store.InsightRecord, error) {
	rec, created, err := e.Store.CreateInsight(ctx, insightType, payload, source, confidence)
	if err != nil {
		return store.InsightRecord{}, err
	}
	if created && rec.Confidence > 0.9 {
		if err := e.ApplyInsight(ctx, rec.ID); err != nil {
			e.Logger.Printf("immediate apply %s: %v", rec.ID, err)
		}
	}
	return rec, nil
}

// ApplyInsight dispatches the insight's side effect by type and flips
// the applied flag. Re-applying an applied insight is a no-op.
func (e *Engine) ApplyInsight(ctx context.Context, id string) error {
	rec, ok, err := e.Store.GetInsight(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if rec.Applied {
		return nil
	}

	switch rec.Type {
	case store.InsightKnowledgeGap:
		err = e.applyGap(ctx, rec)
	case store.InsightKnowledgeSimilarity:
		err = e.applySimilarity(ctx, rec)
	case store.InsightKnowledgeContradiction:
		err = e.applyContradiction(ctx, rec)
	case store.InsightSynthesizedKnowledge:
		err = e.applySynthesis(ctx, rec)
	default:
		// conversational signals are an audit trail, nothing to mutate
		e.Logger.Printf("insight %s (%s) applied as no-op", rec.ID, rec.Type)
	}
	if err != nil {
		return fmt.Errorf("apply %s (%s): %w", rec.ID, rec.Type, err)
	}
	if err := e.Store.MarkInsightApplied(ctx, rec.ID); err != nil {
		return err
	}
	insightsApplied.WithLabelValues(rec.Type).Inc()
	return nil
}

// applyGap plants a placeholder so retrieval surfaces the gap instead
// of silence.
func (e *Engine) applyGap(ctx context.Context, rec store.InsightRecord) error {
	gap := rec.Payload.Gap
	content := fmt.Sprintf("I need to learn more about %s.", gap.Topic)
	if gap.Question != "" {
		content += " " + gap.Question
	}
	_, err := e.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
		Content:    content,
		Source:     "insight:" + rec.ID,
		Type:       store.KnowledgeTypeGap,
		Confidence: 0.3,
		Tags:       []string{"needs_information", "topic:" + gap.Topic},
	})
	return err
}

// applySimilarity merges a near-duplicate pair: the higher-confidence
// row absorbs the union of tags and the max confidence, the other
// becomes a tombstone at 0.1. The tombstone is kept, not deleted, so
// back-references from other insights stay resolvable.
func (e *Engine) applySimilarity(ctx context.Context, rec store.InsightRecord) error {
	sim := rec.Payload.Similarity
	if sim.Similarity <= 0.9 || sim.RecommendedAction != store.SimilarityActionMerge {
		return nil
	}
	k1, ok1, err := e.Store.GetKnowledge(ctx, sim.Knowledge1ID)
	if err != nil {
		return err
	}
	k2, ok2, err := e.Store.GetKnowledge(ctx, sim.Knowledge2ID)
	if err != nil {
		return err
	}
	if !ok1 || !ok2 {
		e.Logger.Printf("merge %s: knowledge pair no longer complete, skipping", rec.ID)
		return nil
	}

	winner, loser := k1, k2
	if k2.Confidence > k1.Confidence {
		winner, loser = k2, k1
	}

	merged := unionTags(winner.Tags, loser.Tags)
	confidence := winner.Confidence
	if loser.Confidence > confidence {
		confidence = loser.Confidence
	}
	if err := e.Store.UpdateKnowledge(ctx, winner.ID, winner.Content, confidence, merged); err != nil {
		return err
	}
	tombstone := fmt.Sprintf("Merged into knowledge %s due to similarity", winner.ID)
	return e.Store.UpdateKnowledge(ctx, loser.ID, tombstone, 0.1,
		unionTags(loser.Tags, []string{"merged", "merged_into:" + winner.ID}))
}

// applyContradiction penalizes both sides symmetrically; neither is
// assumed correct.
func (e *Engine) applyContradiction(ctx context.Context, rec store.InsightRecord) error {
	con := rec.Payload.Contradiction
	k1, ok1, err := e.Store.GetKnowledge(ctx, con.Knowledge1ID)
	if err != nil {
		return err
	}
	k2, ok2, err := e.Store.GetKnowledge(ctx, con.Knowledge2ID)
	if err != nil {
		return err
	}
	if !ok1 || !ok2 {
		e.Logger.Printf("contradiction %s: knowledge pair no longer complete, skipping", rec.ID)
		return nil
	}
	if err := e.Store.UpdateKnowledge(ctx, k1.ID, k1.Content, k1.Confidence*0.8,
		unionTags(k1.Tags, []string{"contradiction", "contradicts:" + k2.ID})); err != nil {
		return err
	}
	return e.Store.UpdateKnowledge(ctx, k2.ID, k2.Content, k2.Confidence*0.8,
		unionTags(k2.Tags, []string{"contradiction", "contradicts:" + k1.ID}))
}

func (e *Engine) applySynthesis(ctx context.Context, rec store.InsightRecord) error {
	syn := rec.Payload.Synthesis
	tags := []string{"synthesized"}
	for _, id := range syn.SourceIDs {
		tags = append(tags, "from:"+id)
	}
	_, err := e.Store.CreateKnowledge(ctx, store.KnowledgeRecord{
		Content:    syn.Content,
		Source:     "insight:" + rec.ID,
		Type:       store.KnowledgeTypeSynthesized,
		Confidence: rec.Confidence,
		Tags:       tags,
	})
	return err
}

func unionTags(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
