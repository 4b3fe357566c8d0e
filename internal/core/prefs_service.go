package core

import (
	"context"
	"errors"
	"fmt"

	"dianita/internal/store"
)

var defaultTheme = map[string]string{
	"appText":           "#FFFFFF",
	"panelBg":           "#09090B",
	"panelBorder":       "rgba(255,255,255,0.15)",
	"userBubbleBg":      "#27272A",
	"assistantBubbleBg": "#18181B",
	"inputBg":           "#18181B",
	"inputBorder":       "rgba(255,255,255,0.15)",
	"userText":          "#FFFFFF",
	"assistantText":     "#FFFFFF",
	"inputText":         "#FFFFFF",
	"placeholderText":   "rgba(255,255,255,0.55)",
}

// DefaultTheme returns a fresh copy of the process-wide default.
func DefaultTheme() map[string]string {
	out := make(map[string]string, len(defaultTheme))
	for k, v := range defaultTheme {
		out[k] = v
	}
	return out
}

type PrefsService struct {
	dbStore *store.SQLiteStore
}

func NewPrefsService(db *store.SQLiteStore) *PrefsService {
	return &PrefsService{dbStore: db}
}

// GetTheme never fails with not-found: a missing row is seeded with the
// default. Racing first reads converge on one row via the user_id unique
// index.
func (s *PrefsService) GetTheme(ctx context.Context, user *store.User) (map[string]string, error) {
	prefs, err := s.dbStore.GetPreferences(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		prefs, err = s.dbStore.UpsertPreferences(ctx, user.ID, DefaultTheme())
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	return prefs.Theme, nil
}

// SetTheme replaces the whole theme document. Partial-update merging is a
// client concern, not the store's.
func (s *PrefsService) SetTheme(ctx context.Context, user *store.User, theme map[string]string) (map[string]string, error) {
	if theme == nil {
		return nil, fmt.Errorf("%w: theme must be an object", ErrInvalidInput)
	}
	prefs, err := s.dbStore.UpsertPreferences(ctx, user.ID, theme)
	if err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return prefs.Theme, nil
}
