package response

import (
	"context"
	"strings"
	"time"

	"github.com/DmitriStark/MyAI/internal/nlp"
	"github.com/DmitriStark/MyAI/internal/store"
)

// Context types used to select templates and defaults.
const (
	ContextGreeting = "greeting"
	ContextQuestion = "question"
	ContextFeedback = "feedback"
	ContextFarewell = "farewell"
	ContextGeneral  = "general"
)

// ConversationContext summarizes recent conversation state for the
// generation steps.
type ConversationContext struct {
	ContextType    string
	Topics         []string
	Sentiment      float64
	Duration       time.Duration
	RecentMessages []store.MessageRecord
}

var topicKeywords = map[string][]string{
	"weather":    {"weather", "rain", "sunny", "temperature", "forecast", "snow"},
	"technology": {"computer", "software", "internet", "phone", "code", "program"},
	"health":     {"health", "doctor", "exercise", "sleep", "medicine", "diet"},
	"science":    {"science", "physics", "chemistry", "biology", "experiment", "energy"},
	"food":       {"food", "eat", "recipe", "cook", "restaurant", "meal"},
}

var greetingWords = []string{"hello", "hi", "hey", "good morning", "good evening", "greetings"}
var farewellWords = []string{"bye", "goodbye", "see you", "good night", "farewell"}
var feedbackWords = []string{"wrong", "incorrect", "right", "correct", "thanks", "thank you", "good job"}

// BuildContext assembles the conversational context for a message.
func BuildContext(ctx context.Context, st *store.Store, conversationID string, messageContent string) (ConversationContext, error) {
	out := ConversationContext{ContextType: ContextGeneral}

	messages, err := st.RecentMessages(ctx, conversationID, 10)
	if err != nil {
		return out, err
	}
	out.RecentMessages = messages
	out.ContextType = classifyContext(messageContent)
	out.Sentiment = nlp.Sentiment(messageContent)
	out.Topics = detectTopics(messageContent, messages)
	if len(messages) > 0 {
		out.Duration = time.Since(messages[0].CreatedAt)
	}
	return out, nil
}

func classifyContext(content string) string {
	lower := strings.ToLower(content)
	for _, w := range greetingWords {
		if strings.Contains(lower, w) {
			return ContextGreeting
		}
	}
	for _, w := range farewellWords {
		if strings.Contains(lower, w) {
			return ContextFarewell
		}
	}
	if nlp.IsQuestion(content) {
		return ContextQuestion
	}
	for _, w := range feedbackWords {
		if strings.Contains(lower, w) {
			return ContextFeedback
		}
	}
	return ContextGeneral
}

func detectTopics(content string, messages []store.MessageRecord) []string {
	var combined strings.Builder
	combined.WriteString(strings.ToLower(content))
	for _, m := range messages {
		combined.WriteString(" ")
		combined.WriteString(strings.ToLower(m.Content))
	}
	text := combined.String()

	var topics []string
	for topic, words := range topicKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				topics = append(topics, topic)
				break
			}
		}
	}
	return topics
}
