package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestUpsertUserByEmailIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertUserByEmail(ctx, "a@example.com", strPtr("Alice"), nil)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.UpsertUserByEmail(ctx, "a@example.com", nil, strPtr("https://img/a.png"))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same user id across upserts, got %s and %s", first.ID, second.ID)
	}
	if second.Name == nil || *second.Name != "Alice" {
		t.Errorf("absent name claim must not erase stored name, got %v", second.Name)
	}
	if second.Image == nil || *second.Image != "https://img/a.png" {
		t.Errorf("present image claim should be stored, got %v", second.Image)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "a@example.com", nil, "hash"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateUser(ctx, "a@example.com", nil, "hash")
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestChatOwnershipIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, _ := s.UpsertUserByEmail(ctx, "alice@example.com", nil, nil)
	bob, _ := s.UpsertUserByEmail(ctx, "bob@example.com", nil, nil)

	chat, err := s.CreateChat(ctx, alice.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if chat.Title != "New chat" {
		t.Errorf("expected default title %q, got %q", "New chat", chat.Title)
	}

	if _, err := s.GetChatOwned(ctx, chat.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign chat, got %v", err)
	}
	if _, err := s.GetChatOwned(ctx, "no-such-id", bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing chat, got %v", err)
	}

	// Rename as the wrong user must fail identically to a missing id.
	if _, err := s.RenameChat(ctx, chat.ID, bob.ID, "stolen"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound renaming foreign chat, got %v", err)
	}
	got, err := s.GetChatOwned(ctx, chat.ID, alice.ID)
	if err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if got.Title != "New chat" {
		t.Errorf("foreign rename must not change title, got %q", got.Title)
	}
}

func TestListChatsRecencyOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.UpsertUserByEmail(ctx, "a@example.com", nil, nil)
	c1, _ := s.CreateChat(ctx, user.ID)
	time.Sleep(2 * time.Millisecond)
	c2, _ := s.CreateChat(ctx, user.ID)

	chats, err := s.ListChats(ctx, user.ID)
	if err != nil {
		t.Fatalf("list chats: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != c2.ID {
		t.Fatalf("expected most recent chat first, got %+v", chats)
	}

	// Touching c1 moves it back to the top.
	time.Sleep(2 * time.Millisecond)
	if err := s.TouchChat(ctx, c1.ID, user.ID, time.Now()); err != nil {
		t.Fatalf("touch chat: %v", err)
	}
	chats, _ = s.ListChats(ctx, user.ID)
	if chats[0].ID != c1.ID {
		t.Errorf("expected touched chat first, got %s", chats[0].ID)
	}
}

func TestMessageOrderingAndWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.UpsertUserByEmail(ctx, "a@example.com", nil, nil)
	chat, _ := s.CreateChat(ctx, user.ID)

	for i := 0; i < 25; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg := &ChatMessage{ChatID: chat.ID, Role: role, Text: fmt.Sprintf("msg-%d", i)}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("create message %d: %v", i, err)
		}
	}

	all, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(all) != 25 {
		t.Fatalf("expected 25 messages, got %d", len(all))
	}
	for i, m := range all {
		if m.Text != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("messages out of order at %d: %q", i, m.Text)
		}
	}

	last, err := s.LastMessages(ctx, chat.ID, 20)
	if err != nil {
		t.Fatalf("last messages: %v", err)
	}
	if len(last) != 20 {
		t.Fatalf("expected window of 20, got %d", len(last))
	}
	if last[0].Text != "msg-5" || last[19].Text != "msg-24" {
		t.Errorf("expected chronological window msg-5..msg-24, got %q..%q", last[0].Text, last[19].Text)
	}
}

func TestMessageSourcesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.UpsertUserByEmail(ctx, "a@example.com", nil, nil)
	chat, _ := s.CreateChat(ctx, user.ID)

	msg := &ChatMessage{
		ChatID:  chat.ID,
		Role:    RoleAssistant,
		Text:    "answer",
		Sources: []Source{{Title: "T", URL: "https://a"}, {URL: "https://b"}},
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("create message: %v", err)
	}

	all, _ := s.ListMessages(ctx, chat.ID)
	if len(all) != 1 || len(all[0].Sources) != 2 {
		t.Fatalf("expected 1 message with 2 sources, got %+v", all)
	}
	if all[0].Sources[0].URL != "https://a" || all[0].Sources[1].URL != "https://b" {
		t.Errorf("sources lost order: %+v", all[0].Sources)
	}
}

func TestPreferencesUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, _ := s.UpsertUserByEmail(ctx, "a@example.com", nil, nil)

	if _, err := s.GetPreferences(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first write, got %v", err)
	}

	first, err := s.UpsertPreferences(ctx, user.ID, map[string]string{"appText": "#FFF", "panelBg": "#000"})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := s.UpsertPreferences(ctx, user.ID, map[string]string{"appText": "#000"})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected the row to be reused, got ids %s and %s", first.ID, second.ID)
	}
	if len(second.Theme) != 1 || second.Theme["appText"] != "#000" {
		t.Errorf("expected full replacement {appText:#000}, got %v", second.Theme)
	}
}
