package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pagechat/internal/llm"
	"pagechat/internal/persona"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	// A single connection keeps the foreign_keys pragma in effect and
	// serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveConversation upserts c and replaces its messages.
func (s *SQLiteStore) SaveConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		return errors.New("store: conversation id is required")
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Title == "" {
		c.Title = TitleFrom(c.Messages)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, title, provider, model, persona_id, page_url, page_title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			provider = excluded.provider,
			model = excluded.model,
			persona_id = excluded.persona_id,
			page_url = excluded.page_url,
			page_title = excluded.page_title,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.Provider, c.Model, c.PersonaID, c.PageURL, c.PageTitle, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, c.ID); err != nil {
		return err
	}
	for _, m := range c.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, role, content) VALUES (?, ?, ?)`,
			c.ID, m.Role, m.Content,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c := &Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT title, provider, model, persona_id, page_url, page_title, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&c.Title, &c.Provider, &c.Model, &c.PersonaID, &c.PageURL, &c.PageTitle, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE conversation_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var msg llm.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, err
		}
		c.Messages = append(c.Messages, msg)
	}
	return c, rows.Err()
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.provider, c.model, c.page_url, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c ORDER BY c.updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.Title, &cs.Provider, &cs.Model, &cs.PageURL, &cs.UpdatedAt, &cs.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) ListPersonas(ctx context.Context) ([]persona.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, system_prompt, icon FROM personas ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []persona.Persona
	for rows.Next() {
		var p persona.Persona
		if err := rows.Scan(&p.ID, &p.Name, &p.SystemPrompt, &p.Icon); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPersona(ctx context.Context, id string) (*persona.Persona, error) {
	p := &persona.Persona{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, system_prompt, icon FROM personas WHERE id = ?`, id,
	).Scan(&p.Name, &p.SystemPrompt, &p.Icon)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) SavePersona(ctx context.Context, p persona.Persona) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO personas (id, name, system_prompt, icon, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		p.ID, p.Name, p.SystemPrompt, p.Icon,
	)
	return err
}

func (s *SQLiteStore) DeletePersona(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
