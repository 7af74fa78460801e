package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/hieutrtr/ragforge/config"
	"github.com/hieutrtr/ragforge/internal/retrieval"
)

// PostgresStore is the durable conversation log. Schema lives under
// migrations/ and is applied with the migrate subcommand.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// AppendMessage inserts one message row.
func (p *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg retrieval.Message) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO conversation_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, msg.Role, msg.Content)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns up to limit most recent messages in chronological order.
func (p *PostgresStore) History(ctx context.Context, sessionID string, limit int) ([]retrieval.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT role, content FROM (
			SELECT id, role, content FROM conversation_messages
			WHERE session_id = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []retrieval.Message
	for rows.Next() {
		var msg retrieval.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return msgs, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
