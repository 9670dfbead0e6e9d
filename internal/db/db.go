package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the PostgreSQL pool and applies the bootstrap schema.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGSERIAL PRIMARY KEY,
            kind TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            encryption_enabled BOOLEAN NOT NULL DEFAULT FALSE,
            max_members INT NOT NULL DEFAULT 0,
            auto_delete_seconds BIGINT NOT NULL DEFAULT 0,
            visible BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS room_members (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            display_name TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL,
            permissions SMALLINT NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            muted BOOLEAN NOT NULL DEFAULT FALSE,
            joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(room_id, user_id)
        );`,
		`CREATE INDEX IF NOT EXISTS room_members_user_idx ON room_members(user_id) WHERE status = 'active';`,
		`CREATE TABLE IF NOT EXISTS messages (
            id BIGSERIAL PRIMARY KEY,
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            sender_id BIGINT NOT NULL,
            content_type TEXT NOT NULL,
            content_body TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            edited_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            reply_to_id BIGINT REFERENCES messages(id) ON DELETE SET NULL,
            forwarded_from_id BIGINT,
            forward_count INT NOT NULL DEFAULT 0,
            scheduled_send_at TIMESTAMPTZ,
            pending BOOLEAN NOT NULL DEFAULT FALSE,
            auto_delete_at TIMESTAMPTZ
        );`,
		`CREATE INDEX IF NOT EXISTS messages_room_idx ON messages(room_id, id DESC);`,
		`CREATE INDEX IF NOT EXISTS messages_pending_idx ON messages(scheduled_send_at) WHERE pending;`,
		`CREATE INDEX IF NOT EXISTS messages_auto_delete_idx ON messages(auto_delete_at) WHERE deleted_at IS NULL AND auto_delete_at IS NOT NULL;`,
		`CREATE TABLE IF NOT EXISTS message_edit_history (
            id BIGSERIAL PRIMARY KEY,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            previous_type TEXT NOT NULL,
            previous_body TEXT NOT NULL,
            edited_at TIMESTAMPTZ NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            emoji TEXT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(message_id, user_id, emoji)
        );`,
		`CREATE TABLE IF NOT EXISTS read_receipts (
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id BIGINT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY(message_id, user_id)
        );`,
		`CREATE TABLE IF NOT EXISTS pinned_messages (
            room_id BIGINT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
            message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            pinned_by BIGINT NOT NULL,
            pinned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(room_id, message_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
