package ego

import (
	"context"
	"fmt"
	"strings"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// Similarity thresholds for the pairwise scan.
const (
	similarityThreshold = 0.7
	mergeThreshold      = 0.9

	// pairs this dissimilar cannot be contradictions of each other
	contradictionFloor = 0.3
)

var negationWords = []string{"not", "never", "cannot", "isn't", "aren't", "doesn't", "don't", "won't", "wasn't", "weren't"}

var antonymPairs = [][2]string{
	{"always", "never"},
	{"true", "false"},
	{"yes", "no"},
	{"can", "cannot"},
	{"does", "does not"},
	{"is", "is not"},
}

// RunConsolidation executes one full consolidation: a pairwise
// similarity scan and an independent contradiction scan over all
// knowledge, both feeding the insight engine.
func (e *Engine) RunConsolidation(ctx context.Context, consolidationID string) error {
	all, err := e.Store.AllKnowledgeByConfidence(ctx)
	if err != nil {
		e.finishConsolidation(ctx, consolidationID, store.TaskStatusFailed)
		return fmt.Errorf("load knowledge: %w", err)
	}
	if err := e.Store.StartConsolidation(ctx, consolidationID, len(all)); err != nil {
		return err
	}

	if err := e.similarityPass(ctx, all); err != nil {
		e.finishConsolidation(ctx, consolidationID, store.TaskStatusFailed)
		return err
	}
	if err := e.contradictionPass(ctx, all); err != nil {
		e.finishConsolidation(ctx, consolidationID, store.TaskStatusFailed)
		return err
	}
	return e.Store.FinishConsolidation(ctx, consolidationID, store.TaskStatusCompleted)
}

func (e *Engine) finishConsolidation(ctx context.Context, id, status string) {
	if err := e.Store.FinishConsolidation(ctx, id, status); err != nil {
		e.Logger.Printf("consolidation %s: finish as %s: %v", id, status, err)
	}
}

// similarityPass walks every pair once. A row matched as the secondary
// of a pair joins the processed set and never becomes its own anchor,
// which keeps one cluster from emitting duplicate pairs.
func (e *Engine) similarityPass(ctx context.Context, all []store.KnowledgeRecord) error {
	processed := map[string]bool{}
	for i, anchor := range all {
		if processed[anchor.ID] {
			continue
		}
		for _, other := range all[i+1:] {
			if processed[other.ID] {
				continue
			}
			sim := nlp.Jaccard(anchor.Content, other.Content)
			if sim <= similarityThreshold {
				continue
			}
			action := store.SimilarityActionReview
			if sim > mergeThreshold {
				action = store.SimilarityActionMerge
			}
			_, err := e.CreateInsight(ctx, store.InsightKnowledgeSimilarity, store.InsightPayload{
				Similarity: &store.SimilarityInsight{
					Knowledge1ID:      anchor.ID,
					Knowledge2ID:      other.ID,
					Similarity:        sim,
					RecommendedAction: action,
				},
			}, "consolidation", sim)
			if err != nil {
				return fmt.Errorf("similarity insight: %w", err)
			}
			processed[other.ID] = true
		}
		processed[anchor.ID] = true
	}
	return nil
}

// contradictionPass flags pairs that are related enough to talk about
// the same thing but disagree: exactly one side negated, or the pair
// straddles a known antonym pair.
func (e *Engine) contradictionPass(ctx context.Context, all []store.KnowledgeRecord) error {
	processed := map[string]bool{}
	for i, anchor := range all {
		if processed[anchor.ID] {
			continue
		}
		for _, other := range all[i+1:] {
			if processed[other.ID] {
				continue
			}
			sim := nlp.Jaccard(anchor.Content, other.Content)
			if sim < contradictionFloor {
				continue
			}
			reason, found := contradictionSignal(anchor.Content, other.Content)
			if !found {
				continue
			}
			_, err := e.CreateInsight(ctx, store.InsightKnowledgeContradiction, store.InsightPayload{
				Contradiction: &store.ContradictionInsight{
					Knowledge1ID: anchor.ID,
					Knowledge2ID: other.ID,
					Reason:       reason,
				},
			}, "consolidation", 0.7)
			if err != nil {
				return fmt.Errorf("contradiction insight: %w", err)
			}
			processed[other.ID] = true
		}
		processed[anchor.ID] = true
	}
	return nil
}

func contradictionSignal(a, b string) (string, bool) {
	negA := containsNegation(a)
	negB := containsNegation(b)
	if negA != negB {
		return "one-sided negation", true
	}
	lowerA := " " + strings.ToLower(a) + " "
	lowerB := " " + strings.ToLower(b) + " "
	for _, pair := range antonymPairs {
		first := " " + pair[0] + " "
		second := " " + pair[1] + " "
		if (strings.Contains(lowerA, first) && strings.Contains(lowerB, second)) ||
			(strings.Contains(lowerA, second) && strings.Contains(lowerB, first)) {
			return fmt.Sprintf("antonyms %s/%s", pair[0], pair[1]), true
		}
	}
	return "", false
}

func containsNegation(text string) bool {
	padded := " " + strings.ToLower(text) + " "
	for _, w := range negationWords {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
