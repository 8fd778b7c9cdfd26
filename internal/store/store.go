package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/testforge/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed item bank.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		topic TEXT NOT NULL,
		level TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		choices TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL DEFAULT '',
		model_answer TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		embedding TEXT NOT NULL DEFAULT '',
		quality REAL NOT NULL DEFAULT 0.5,
		approved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_search
		ON items (topic, level, difficulty, type);

	CREATE TABLE IF NOT EXISTS item_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		test_id TEXT NOT NULL,
		used_at DATETIME NOT NULL,
		FOREIGN KEY (item_id) REFERENCES items(id)
	);

	CREATE TABLE IF NOT EXISTS bank_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const itemColumns = `i.id, i.text, i.type, i.topic, i.level, i.difficulty,
	i.choices, i.answer, i.model_answer, i.rubric, i.embedding,
	i.quality, i.approved, i.created_at`

// Search returns candidate items for one slot group, least-used first
// with the higher quality score breaking ties.
func (s *Store) Search(ctx context.Context, topic string, level model.CognitiveLevel, difficulty model.Difficulty, itemType model.ItemType, approvedOnly bool) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + `, COUNT(u.id) AS usage_count
		FROM items i
		LEFT JOIN item_usage u ON u.item_id = i.id
		WHERE i.topic = ? AND i.level = ? AND i.difficulty = ? AND i.type = ?`
	args := []any{topic, level, difficulty, itemType}
	if approvedOnly {
		query += ` AND i.approved = 1`
	}
	query += ` GROUP BY i.id ORDER BY usage_count ASC, i.quality DESC, i.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows, true)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// InsertMany stores items in one transaction and returns them with
// their assigned IDs, in input order.
func (s *Store) InsertMany(ctx context.Context, items []model.Item) ([]model.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		choices, err := encodeChoices(item.Choices)
		if err != nil {
			return nil, fmt.Errorf("encode choices: %w", err)
		}
		embedding, err := encodeEmbedding(item.Embedding)
		if err != nil {
			return nil, fmt.Errorf("encode embedding: %w", err)
		}
		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (text, type, topic, level, difficulty, choices, answer, model_answer, rubric, embedding, quality, approved, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.Text, item.Type, item.Topic, item.Level, item.Difficulty,
			choices, item.Answer, item.ModelAnswer, item.Rubric, embedding,
			item.Quality, item.Approved, now,
		)
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		item.ID = id
		item.CreatedAt = now
		out = append(out, item)
	}
	return out, tx.Commit()
}

// RecordUsage appends usage rows for the given items under one test ID.
func (s *Store) RecordUsage(ctx context.Context, itemIDs []int64, testID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, id := range itemIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_usage (item_id, test_id, used_at) VALUES (?, ?, ?)`,
			id, testID, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetItem returns an item by ID.
func (s *Store) GetItem(ctx context.Context, id int64) (model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+`, (SELECT COUNT(*) FROM item_usage u WHERE u.item_id = i.id)
		 FROM items i WHERE i.id = ?`, id)
	return scanItem(row, true)
}

// ApproveItem marks an item as approved for selection.
func (s *Store) ApproveItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE items SET approved = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListTopics returns the distinct topics present in the bank.
func (s *Store) ListTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM items ORDER BY topic`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// CountItems returns the number of items, optionally restricted to a
// topic (empty string means all).
func (s *Store) CountItems(ctx context.Context, topic string) (int, error) {
	query := `SELECT COUNT(*) FROM items`
	var args []any
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, withUsage bool) (model.Item, error) {
	var item model.Item
	var choices, embedding string
	dest := []any{
		&item.ID, &item.Text, &item.Type, &item.Topic, &item.Level, &item.Difficulty,
		&choices, &item.Answer, &item.ModelAnswer, &item.Rubric, &embedding,
		&item.Quality, &item.Approved, &item.CreatedAt,
	}
	if withUsage {
		dest = append(dest, &item.UsageCount)
	}
	if err := row.Scan(dest...); err != nil {
		return model.Item{}, err
	}
	if choices != "" {
		if err := json.Unmarshal([]byte(choices), &item.Choices); err != nil {
			return model.Item{}, fmt.Errorf("decode choices for item %d: %w", item.ID, err)
		}
	}
	if embedding != "" {
		if err := json.Unmarshal([]byte(embedding), &item.Embedding); err != nil {
			return model.Item{}, fmt.Errorf("decode embedding for item %d: %w", item.ID, err)
		}
	}
	return item, nil
}

func encodeChoices(choices map[string]string) (string, error) {
	if len(choices) == 0 {
		return "", nil
	}
	data, err := json.Marshal(choices)
	return string(data), err
}

func encodeEmbedding(vec []float64) (string, error) {
	if len(vec) == 0 {
		return "", nil
	}
	data, err := json.Marshal(vec)
	return string(data), err
}
