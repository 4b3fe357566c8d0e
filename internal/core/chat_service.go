package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dianita/internal/llm"
	"dianita/internal/store"
)

const (
	// historyWindow bounds the conversation sent to the provider. Applied
	// uniformly to every chat; full history stays available via GetHistory.
	historyWindow = 20

	systemPrompt = "You are Dianita. Answer in English, clear and friendly. " +
		"If web search is active, use it when necessary and add the sources used too."

	// fallbackReply stands in when the provider returns no usable text.
	// Not an error condition.
	fallbackReply = "I couldn't extract a text answer from the API."
)

type ChatService struct {
	dbStore  *store.SQLiteStore
	provider llm.Provider
	logger   zerolog.Logger
}

func NewChatService(db *store.SQLiteStore, provider llm.Provider, logger zerolog.Logger) *ChatService {
	return &ChatService{
		dbStore:  db,
		provider: provider,
		logger:   logger,
	}
}

func (s *ChatService) CreateChat(ctx context.Context, user *store.User) (*store.ChatSession, error) {
	return s.dbStore.CreateChat(ctx, user.ID)
}

func (s *ChatService) ListChats(ctx context.Context, user *store.User) ([]store.ChatSession, error) {
	return s.dbStore.ListChats(ctx, user.ID)
}

func (s *ChatService) RenameChat(ctx context.Context, user *store.User, chatID, title string) (*store.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return s.dbStore.RenameChat(ctx, chatID, user.ID, title)
}

// GetHistory returns the full ordered history of an owned chat.
func (s *ChatService) GetHistory(ctx context.Context, user *store.User, chatID string) ([]store.ChatMessage, error) {
	if _, err := s.dbStore.GetChatOwned(ctx, chatID, user.ID); err != nil {
		return nil, err
	}
	return s.dbStore.ListMessages(ctx, chatID)
}

type TurnResult struct {
	Reply   string
	Sources []store.Source
}

// AppendTurn appends the user utterance to an owned chat, asks the provider
// for a reply over the bounded history, and persists the assistant turn with
// any deduplicated citations.
//
// If the provider call fails, the already-persisted user message is kept so
// no input is silently lost; no assistant message is written.
func (s *ChatService) AppendTurn(ctx context.Context, user *store.User, chatID, utterance string, webSearch bool) (*TurnResult, error) {
	text := strings.TrimSpace(utterance)
	if text == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	chat, err := s.dbStore.GetChatOwned(ctx, chatID, user.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMsg := &store.ChatMessage{
		ChatID:    chat.ID,
		Role:      store.RoleUser,
		Text:      text,
		CreatedAt: now,
	}
	if err := s.dbStore.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	if err := s.dbStore.TouchChat(ctx, chat.ID, user.ID, now); err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}

	// Includes the utterance just appended.
	history, err := s.dbStore.LastMessages(ctx, chat.ID, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]llm.Message, 0, len(history))
	for _, m := range history {
		turns = append(turns, llm.Message{Role: m.Role, Text: m.Text})
	}

	resp, err := s.provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Messages:  turns,
		WebSearch: webSearch,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chat.ID).Msg("completion provider call failed")
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		reply = fallbackReply
	}

	var sources []store.Source
	if webSearch {
		sources = dedupeSources(resp.Sources)
	}

	assistantMsg := &store.ChatMessage{
		ChatID:    chat.ID,
		Role:      store.RoleAssistant,
		Text:      reply,
		Sources:   sources,
		CreatedAt: time.Now(),
	}
	if err := s.dbStore.CreateMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	if err := s.dbStore.TouchChat(ctx, chat.ID, user.ID, assistantMsg.CreatedAt); err != nil {
		return nil, fmt.Errorf("touch chat: %w", err)
	}

	return &TurnResult{Reply: reply, Sources: sources}, nil
}

// dedupeSources keys citations by url + "|" + title, drops entries that are
// empty on both parts, and keeps first-seen order.
func dedupeSources(in []llm.Source) []store.Source {
	var out []store.Source
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.URL) == "" && strings.TrimSpace(s.Title) == "" {
			continue
		}
		key := s.URL + "|" + s.Title
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, store.Source{Title: s.Title, URL: s.URL})
	}
	return out
}
