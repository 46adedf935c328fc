package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tomfahy/studycache/internal/domain"
)

// Flashcards, quizzes and chat are derived artifacts: too volatile to cache
// safely, so they go straight to the remote and every remote failure
// propagates. No offline fallback.

// FetchFlashcards returns the flashcards derived from a chapter.
func (s *Syncer) FetchFlashcards(ctx context.Context, chapterID string) ([]domain.Flashcard, error) {
	return fetchDirect[domain.Flashcard](ctx, s, "/chapters/"+chapterID+"/flashcards")
}

// FetchQuiz returns the quiz questions derived from a chapter.
func (s *Syncer) FetchQuiz(ctx context.Context, chapterID string) ([]domain.QuizQuestion, error) {
	return fetchDirect[domain.QuizQuestion](ctx, s, "/chapters/"+chapterID+"/quiz")
}

// rawChatMessage is the wire shape of a conversation turn; timestamps
// arrive as strings.
type rawChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// FetchChatHistory returns the conversation for a chapter, oldest first.
func (s *Syncer) FetchChatHistory(ctx context.Context, chapterID string) ([]domain.ChatMessage, error) {
	body, err := s.remote.Request(ctx, http.MethodGet, "/chat/"+chapterID, nil, nil)
	if err != nil {
		return nil, err
	}

	var raw []rawChatMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode chat history for %s: %w", chapterID, err)
	}
	return mapMessages(raw), nil
}

// SendChatMessage posts a new message and returns the full updated
// conversation. The server appends its assistant reply in the same round
// trip, so the returned list already contains it; the response's separate
// assistant_message field duplicates the last entry and is not surfaced.
func (s *Syncer) SendChatMessage(ctx context.Context, chapterID, content string) ([]domain.ChatMessage, error) {
	payload := map[string]string{"content": content}
	body, err := s.remote.Request(ctx, http.MethodPost, "/chat/"+chapterID, payload, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []rawChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response for %s: %w", chapterID, err)
	}
	return mapMessages(resp.Messages), nil
}

func fetchDirect[T any](ctx context.Context, s *Syncer, path string) ([]T, error) {
	body, err := s.remote.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var out []T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return out, nil
}

func mapMessages(raw []rawChatMessage) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, len(raw))
	for i, m := range raw {
		messages[i] = domain.ChatMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: parseTimestamp(m.Timestamp),
		}
	}
	return messages
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds. An
// unparseable timestamp yields a zero time rather than failing the whole
// conversation.
func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
