package learning

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/DmitriStark/MyAI/internal/store"
)

const maxWebContentChars = 12000

// ProcessWebContent replays a web_content task: fetch the learning
// source's URL, extract the readable article and run the extraction
// cascade over it.
func (m *Manager) ProcessWebContent(ctx context.Context, task store.LearningTaskRecord) error {
	src, ok, err := m.Store.GetLearningSource(ctx, task.SourceID)
	if err != nil {
		return fmt.Errorf("load source %s: %w", task.SourceID, err)
	}
	if !ok {
		return fmt.Errorf("source %s: %w", task.SourceID, store.ErrNotFound)
	}
	if err := m.Store.UpdateLearningSource(ctx, src.ID, store.SourceStatusProcessing, "", ""); err != nil {
		return err
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.1)

	title, text, err := m.fetchArticle(ctx, src.URL)
	if err != nil {
		if serr := m.Store.UpdateLearningSource(ctx, src.ID, store.SourceStatusFailed, "", ""); serr != nil {
			m.Logger.Printf("source %s: mark failed: %v", src.ID, serr)
		}
		return fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.3)

	created, err := m.ingestText(ctx, task, text, "web:"+src.ID, store.KnowledgeTypeWebContent, 0.6)
	if err != nil {
		return err
	}
	_ = m.Store.SetLearningTaskProgress(ctx, task.ID, 0.8)
	m.linkRelated(ctx, created)

	if err := m.Store.UpdateLearningSource(ctx, src.ID, store.SourceStatusProcessed, title, text); err != nil {
		return err
	}
	return nil
}

func (m *Manager) fetchArticle(ctx context.Context, rawURL string) (title string, text string, err error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", "", err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}
	text = strings.TrimSpace(article.TextContent)
	if len(text) > maxWebContentChars {
		text = text[:maxWebContentChars]
	}
	if text == "" {
		return "", "", fmt.Errorf("no readable content")
	}
	return article.Title, text, nil
}
