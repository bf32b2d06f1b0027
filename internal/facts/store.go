// Package facts provides long-term memory storage for things the agent
// learns about a user.
package facts

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category groups related facts.
type Category string

const (
	CategoryUser       Category = "user"       // who the user is
	CategoryPreference Category = "preference" // how the user likes things
	CategoryProject    Category = "project"    // ongoing work and goals
	CategoryReference  Category = "reference"  // pointers to outside resources
)

// Categories lists the valid categories in display order.
var Categories = []Category{CategoryUser, CategoryPreference, CategoryProject, CategoryReference}

// ErrNotFound is returned when a fact does not exist.
var ErrNotFound = errors.New("fact not found")

// Fact represents a piece of long-term memory owned by one user.
type Fact struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  Category  `json:"category"`
	Key       string    `json:"key"` // unique per user and category
	Value     string    `json:"value"`
	Source    string    `json:"source,omitempty"` // conversation it was learned in
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages fact persistence.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a fact database at dbPath. The caller
// must have registered the "sqlite3" driver.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB creates a fact store using an existing database connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(user_id, category, key)
		);

		CREATE INDEX IF NOT EXISTS idx_facts_user ON facts(user_id, updated_at DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Set creates or updates a fact. Updating keeps the original id and
// creation time.
func (s *Store) Set(userID string, category Category, key, value, source string) (*Fact, error) {
	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	_, err = s.db.Exec(`
		INSERT INTO facts (id, user_id, category, key, value, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			updated_at = excluded.updated_at
	`, id.String(), userID, category, key, value, source,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("upsert fact: %w", err)
	}

	return s.Get(userID, category, key)
}

// Get retrieves a fact by category and key.
func (s *Store) Get(userID string, category Category, key string) (*Fact, error) {
	f, err := scanFact(s.db.QueryRow(`
		SELECT id, user_id, category, key, value, source, created_at, updated_at
		FROM facts WHERE user_id = ? AND category = ? AND key = ?
	`, userID, category, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, key)
	}
	return f, err
}

// Search finds a user's facts whose key or value contains every word
// of query, most recently updated first. An empty query lists the
// user's facts. category narrows the search when non-empty.
func (s *Store) Search(userID string, category Category, query string, limit int) ([]*Fact, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, category, key, value, source, created_at, updated_at
		FROM facts WHERE user_id = ?`)
	args := []any{userID}

	if category != "" {
		sb.WriteString(` AND category = ?`)
		args = append(args, category)
	}
	for _, word := range strings.Fields(query) {
		sb.WriteString(` AND (key LIKE ? ESCAPE '\' OR value LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(word) + "%"
		args = append(args, pattern, pattern)
	}
	sb.WriteString(` ORDER BY updated_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Delete removes a fact.
func (s *Store) Delete(userID string, category Category, key string) error {
	result, err := s.db.Exec(`DELETE FROM facts WHERE user_id = ? AND category = ? AND key = ?`,
		userID, category, key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, category, key)
	}
	return nil
}

// Count returns how many facts a user has.
func (s *Store) Count(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM facts WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFact(row scanner) (*Fact, error) {
	var f Fact
	var cat, created, updated string
	var source sql.NullString

	if err := row.Scan(&f.ID, &f.UserID, &cat, &f.Key, &f.Value, &source, &created, &updated); err != nil {
		return nil, err
	}

	f.Category = Category(cat)
	f.Source = source.String
	f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	f.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &f, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
