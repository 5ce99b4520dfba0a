package response

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// ErrNoDefaultResponse is returned when generation reaches the default
// fallback and no default response is configured. Callers must not
// swallow it into an empty reply; the HTTP layer seeds the stock
// defaults once and retries.
var ErrNoDefaultResponse = errors.New("no default response configured")

// Fixed confidences per generation step.
const (
	confidenceOverride  = 0.75
	confidenceFeedback  = 0.85
	confidenceTemplate  = 0.7
	confidenceDirect    = 0.8
	confidenceHedged    = 0.5
	confidenceUncertain = 0.3
	confidenceDefault   = 0.1
)

type Generator struct {
	Store  *store.Store
	Cache  *DefaultCache
	Logger *log.Logger
}

func NewGenerator(st *store.Store) *Generator {
	return &Generator{
		Store:  st,
		Cache:  NewDefaultCache(st),
		Logger: log.New(log.Writer(), "[RESPONSE] ", log.LstdFlags),
	}
}

type Result struct {
	MessageID           string
	Response            string
	Confidence          float64
	UsedKnowledgeIDs    []string
	UsedDefaultResponse bool
	UsedTemplate        bool
	TemplateID          string
	KnowledgeCount      int
}

// Generate produces a reply for a user message, walking the steps in
// priority order: override check, feedback-priority knowledge,
// template rendering, direct knowledge formatting, default fallback.
func (g *Generator) Generate(ctx context.Context, messageID, conversationID string) (Result, error) {
	msg, ok, err := g.Store.GetMessage(ctx, messageID)
	if err != nil {
		return Result{}, fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return Result{}, store.ErrNotFound
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Result{}, fmt.Errorf("message %s has no content", messageID)
	}

	convCtx, err := BuildContext(ctx, g.Store, conversationID, msg.Content)
	if err != nil {
		return Result{}, fmt.Errorf("build context: %w", err)
	}

	keywords := nlp.ExtractKeywords(msg.Content, 8)
	knowledge, err := g.retrieveKnowledge(ctx, keywords, msg.Content)
	if err != nil {
		return Result{}, fmt.Errorf("retrieve knowledge: %w", err)
	}

	result := g.compose(ctx, msg, convCtx, knowledge)
	if result == nil {
		def, err := g.defaultResponse(ctx, convCtx.ContextType)
		if err != nil {
			return Result{}, err
		}
		result = def
	}
	result.MessageID = messageID
	result.KnowledgeCount = len(knowledge)

	if err := g.Store.TouchKnowledgeAccess(ctx, result.UsedKnowledgeIDs); err != nil {
		g.Logger.Printf("touch knowledge access: %v", err)
	}
	if _, err := g.Store.CreateMessage(ctx, store.MessageRecord{
		ConversationID: conversationID,
		Sender:         store.SenderAssistant,
		Content:        result.Response,
	}); err != nil {
		return Result{}, fmt.Errorf("persist reply: %w", err)
	}
	if _, err := g.Store.InsertResponseLog(ctx, store.ResponseLogRecord{
		MessageID:           messageID,
		ConversationID:      conversationID,
		UsedKnowledgeIDs:    result.UsedKnowledgeIDs,
		UsedDefaultResponse: result.UsedDefaultResponse,
		UsedTemplate:        result.UsedTemplate,
		TemplateID:          result.TemplateID,
		Confidence:          result.Confidence,
	}); err != nil {
		g.Logger.Printf("response log: %v", err)
	}
	return *result, nil
}

// retrieveKnowledge does the two-phase widening: precise keyword search
// first, topped up by a broad substring match over the raw message when
// fewer than three candidates come back.
func (g *Generator) retrieveKnowledge(ctx context.Context, keywords []string, raw string) ([]store.KnowledgeRecord, error) {
	records, err := g.Store.SearchKnowledgeByKeywords(ctx, keywords, 20)
	if err != nil {
		return nil, err
	}
	if len(records) >= 3 {
		return records, nil
	}
	probe := raw
	if len(probe) > 100 {
		probe = probe[:100]
	}
	broader, err := g.Store.SearchKnowledgeSubstring(ctx, probe, 20)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, r := range records {
		seen[r.ID] = true
	}
	for _, r := range broader {
		if !seen[r.ID] {
			records = append(records, r)
			seen[r.ID] = true
		}
	}
	return records, nil
}

// compose runs steps 1-4; nil means fall through to the default.
func (g *Generator) compose(ctx context.Context, msg store.MessageRecord, convCtx ConversationContext, knowledge []store.KnowledgeRecord) *Result {
	// 1. override check: a past reply on this ground was rejected
	for _, k := range knowledge {
		if k.Type == store.KnowledgeTypeOverride {
			return &Result{
				Response:         "I may have gotten this wrong before. My best current understanding is limited here, so please correct me if needed.",
				Confidence:       confidenceOverride,
				UsedKnowledgeIDs: []string{k.ID},
			}
		}
	}

	// 2. feedback-corrected knowledge outranks everything retrievable
	for _, k := range knowledge {
		if strings.HasPrefix(k.Source, "feedback:") && k.Confidence >= 0.7 {
			return &Result{
				Response:         k.Content,
				Confidence:       confidenceFeedback,
				UsedKnowledgeIDs: []string{k.ID},
			}
		}
	}

	// 3. templates, most used first
	if out := g.tryTemplates(ctx, msg, convCtx, knowledge); out != nil {
		return out
	}

	// 4. direct knowledge formatting by confidence tier
	if len(knowledge) > 0 {
		best := knowledge[0]
		var text string
		var conf float64
		switch {
		case best.Confidence > 0.7:
			text = best.Content
			conf = confidenceDirect
		case best.Confidence > 0.4:
			text = "I believe " + lowerFirst(best.Content)
			conf = confidenceHedged
		default:
			text = "I'm not entirely sure, but " + lowerFirst(best.Content)
			conf = confidenceUncertain
		}
		return &Result{
			Response:         text,
			Confidence:       conf,
			UsedKnowledgeIDs: []string{best.ID},
		}
	}
	return nil
}

func (g *Generator) tryTemplates(ctx context.Context, msg store.MessageRecord, convCtx ConversationContext, knowledge []store.KnowledgeRecord) *Result {
	templates, err := g.Store.ListTemplatesForContext(ctx, convCtx.ContextType)
	if err != nil {
		g.Logger.Printf("list templates: %v", err)
		return nil
	}
	vars := map[string]interface{}{
		"message":   msg.Content,
		"context":   convCtx.ContextType,
		"topics":    convCtx.Topics,
		"sentiment": convCtx.Sentiment,
	}
	if len(knowledge) > 0 {
		vars["knowledge"] = knowledge[0].Content
	}
	for _, tmpl := range templates {
		rendered := RenderTemplate(tmpl.Template, vars)
		if rendered == "" {
			continue
		}
		if err := g.Store.IncrementTemplateUsage(ctx, tmpl.ID); err != nil {
			g.Logger.Printf("template usage: %v", err)
		}
		out := &Result{
			Response:     rendered,
			Confidence:   confidenceTemplate,
			UsedTemplate: true,
			TemplateID:   tmpl.ID,
		}
		if len(knowledge) > 0 {
			out.UsedKnowledgeIDs = []string{knowledge[0].ID}
		}
		return out
	}
	return nil
}

func (g *Generator) defaultResponse(ctx context.Context, contextType string) (*Result, error) {
	defaults, err := g.Cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if len(defaults) == 0 {
		return nil, ErrNoDefaultResponse
	}
	chosen := defaults[0]
	for _, d := range defaults {
		if d.Context == contextType {
			chosen = d
			break
		}
	}
	return &Result{
		Response:            chosen.ResponseText,
		Confidence:          confidenceDefault,
		UsedDefaultResponse: true,
	}, nil
}

// SeedDefaults inserts the stock default responses. Used on first run
// and when generation hits an empty default table.
func (g *Generator) SeedDefaults(ctx context.Context) error {
	seeds := []struct {
		text     string
		priority int
	}{
		{"I don't know this yet. Could you explain more?", 5},
		{"That's interesting! Tell me more about it.", 4},
		{"I'm still learning about this topic.", 3},
		{"Could you rephrase that for me?", 2},
		{"I'm not sure how to respond to that yet.", 1},
	}
	for _, s := range seeds {
		if _, err := g.Store.CreateDefaultResponse(ctx, s.text, "", s.priority); err != nil {
			return err
		}
	}
	g.Cache.Invalidate()
	return nil
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
