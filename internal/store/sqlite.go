package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound covers both "no such row" and "row owned by someone else";
	// callers must not be able to tell the two apart.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("already exists")
)

type SQLiteStore struct {
	db  *sql.DB
	sql sq.StatementBuilderType
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{
		db:  db,
		sql: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        email TEXT UNIQUE NOT NULL,
        name TEXT,
        image TEXT,
        password_hash TEXT,
        created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chat_sessions (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        title TEXT NOT NULL DEFAULT 'New chat',
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    CREATE INDEX IF NOT EXISTS idx_chat_sessions_user_updated ON chat_sessions (user_id, updated_at DESC);

    CREATE TABLE IF NOT EXISTS chat_messages (
        id TEXT PRIMARY KEY,
        chat_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        text TEXT NOT NULL,
        sources_json TEXT,
        created_at DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chat_sessions (id) ON DELETE CASCADE
    );
    CREATE INDEX IF NOT EXISTS idx_chat_messages_chat_created ON chat_messages (chat_id, created_at);

    CREATE TABLE IF NOT EXISTS user_preferences (
        id TEXT PRIMARY KEY,
        user_id TEXT UNIQUE NOT NULL,
        theme_json TEXT NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// User methods

// UpsertUserByEmail creates the user on first sight of an email, and refreshes
// name/image on every later call. Absent claims (nil) never erase stored
// values; concurrent first logins are resolved by the unique index on email.
func (s *SQLiteStore) UpsertUserByEmail(ctx context.Context, email string, name, image *string) (*User, error) {
	q := s.sql.Insert("users").
		Columns("id", "email", "name", "image").
		Values(uuid.NewString(), email, name, image).
		Suffix("ON CONFLICT(email) DO UPDATE SET name = COALESCE(excluded.name, users.name), image = COALESCE(excluded.image, users.image)")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

// CreateUser inserts a credential-based account. The caller supplies an
// already-hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, email string, name *string, passwordHash string) (*User, error) {
	q := s.sql.Insert("users").
		Columns("id", "email", "name", "password_hash").
		Values(uuid.NewString(), email, name, passwordHash)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByEmail(ctx, email)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	q := s.sql.Select("id", "email", "name", "image", "password_hash", "created_at").
		From("users").
		Where(sq.Eq{"email": email})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	return s.scanUser(s.db.QueryRowContext(ctx, sqlStr, args...))
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := s.sql.Select("id", "email", "name", "image", "password_hash", "created_at").
		From("users").
		Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	return s.scanUser(s.db.QueryRowContext(ctx, sqlStr, args...))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var name, image, passwordHash sql.NullString
	err := row.Scan(&user.ID, &user.Email, &name, &image, &passwordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if name.Valid {
		user.Name = &name.String
	}
	if image.Valid {
		user.Image = &image.String
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	return &user, nil
}

// Chat methods

func (s *SQLiteStore) CreateChat(ctx context.Context, userID string) (*ChatSession, error) {
	now := time.Now()
	chat := &ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     "New chat",
		CreatedAt: now,
		UpdatedAt: now,
	}

	q := s.sql.Insert("chat_sessions").
		Columns("id", "user_id", "title", "created_at", "updated_at").
		Values(chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// GetChatOwned is the ownership primitive: the id and the owner are matched in
// a single predicate, so a chat owned by someone else looks exactly like a
// missing chat.
func (s *SQLiteStore) GetChatOwned(ctx context.Context, chatID, userID string) (*ChatSession, error) {
	q := s.sql.Select("id", "user_id", "title", "created_at", "updated_at").
		From("chat_sessions").
		Where(sq.Eq{"id": chatID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat query: %w", err)
	}

	var chat ChatSession
	err = s.db.QueryRowContext(ctx, sqlStr, args...).
		Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]ChatSession, error) {
	q := s.sql.Select("id", "user_id", "title", "created_at", "updated_at").
		From("chat_sessions").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("updated_at DESC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []ChatSession
	for rows.Next() {
		var chat ChatSession
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, userID, title string) (*ChatSession, error) {
	q := s.sql.Update("chat_sessions").
		Set("title", title).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": chatID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build chat rename query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}
	return s.GetChatOwned(ctx, chatID, userID)
}

// TouchChat refreshes updated_at so the chat resurfaces at the top of the
// list. Scoped by owner like every other chat write.
func (s *SQLiteStore) TouchChat(ctx context.Context, chatID, userID string, t time.Time) error {
	q := s.sql.Update("chat_sessions").
		Set("updated_at", t).
		Where(sq.Eq{"id": chatID, "user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build chat touch query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Message methods

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	var sourcesJSON *string
	if len(msg.Sources) > 0 {
		b, err := json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources: %w", err)
		}
		str := string(b)
		sourcesJSON = &str
	}

	q := s.sql.Insert("chat_messages").
		Columns("id", "chat_id", "role", "text", "sources_json", "created_at").
		Values(msg.ID, msg.ChatID, msg.Role, msg.Text, sourcesJSON, msg.CreatedAt)
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build message insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the full history of a chat, oldest first. Ties on
// created_at fall back to rowid, which is monotonic for this append-only
// table.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	q := s.sql.Select("id", "chat_id", "role", "text", "sources_json", "created_at").
		From("chat_messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "rowid ASC")
	return s.queryMessages(ctx, q)
}

// LastMessages returns the most recent n messages in chronological order.
func (s *SQLiteStore) LastMessages(ctx context.Context, chatID string, n int) ([]ChatMessage, error) {
	q := s.sql.Select("id", "chat_id", "role", "text", "sources_json", "created_at").
		From("chat_messages").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("created_at DESC", "rowid DESC").
		Limit(uint64(n))
	messages, err := s.queryMessages(ctx, q)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, q sq.SelectBuilder) ([]ChatMessage, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build message query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var msg ChatMessage
		var sourcesJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Text, &sourcesJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if sourcesJSON.Valid && sourcesJSON.String != "" {
			if err := json.Unmarshal([]byte(sourcesJSON.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources for message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Preference methods

func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*UserPreferences, error) {
	q := s.sql.Select("id", "user_id", "theme_json").
		From("user_preferences").
		Where(sq.Eq{"user_id": userID})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build preferences query: %w", err)
	}

	var prefs UserPreferences
	var themeJSON string
	err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&prefs.ID, &prefs.UserID, &themeJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(themeJSON), &prefs.Theme); err != nil {
		return nil, fmt.Errorf("unmarshal theme: %w", err)
	}
	return &prefs, nil
}

// UpsertPreferences replaces the whole theme document. Fields missing from the
// incoming value are gone after this call; merging is the client's business.
func (s *SQLiteStore) UpsertPreferences(ctx context.Context, userID string, theme map[string]string) (*UserPreferences, error) {
	themeJSON, err := json.Marshal(theme)
	if err != nil {
		return nil, fmt.Errorf("marshal theme: %w", err)
	}

	q := s.sql.Insert("user_preferences").
		Columns("id", "user_id", "theme_json").
		Values(uuid.NewString(), userID, string(themeJSON)).
		Suffix("ON CONFLICT(user_id) DO UPDATE SET theme_json = excluded.theme_json")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build preferences upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("upsert preferences: %w", err)
	}
	return s.GetPreferences(ctx, userID)
}
