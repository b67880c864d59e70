package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"petsim/internal/models"
)

func (s *Store) CreateChat(ctx context.Context, c models.Chat) (models.Chat, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chats (user_id, pet_id, created_at, last_message_at) VALUES ($1, $2, $3, $4) RETURNING id
	`, c.UserID, c.PetID, c.CreatedAt, c.LastMessageAt).Scan(&c.ID)
	if err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return c, nil
}

// IdleChats returns chats of visible pets whose newest non-deleted message is
// older than before. LastMessageAt is set to that message's time.
func (s *Store) IdleChats(ctx context.Context, before time.Time) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.user_id, c.pet_id, c.created_at, m.last_at
		FROM chats c
		JOIN pets p ON p.id = c.pet_id
		JOIN (
			SELECT chat_id, MAX(created_at) AS last_at
			FROM messages
			WHERE NOT is_deleted
			GROUP BY chat_id
		) m ON m.chat_id = c.id
		WHERE m.last_at < $1 AND NOT p.is_deleted AND NOT p.is_lost
		ORDER BY c.id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("query idle chats: %w", err)
	}
	defer rows.Close()
	var out []models.Chat
	for rows.Next() {
		var (
			c    models.Chat
			last pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.PetID, &c.CreatedAt, &last); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.LastMessageAt = timePtr(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentMessages returns up to limit non-deleted messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, sender_id, message_type, content, created_at
		FROM messages
		WHERE chat_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var (
			m       models.Message
			sender  pgtype.Int8
			msgType string
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &sender, &msgType, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sender.Valid {
			m.SenderID = &sender.Int64
		}
		m.Type = models.MessageType(msgType)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMessage appends m and moves the chat's last_message_at forward in one transaction.
func (s *Store) AddMessage(ctx context.Context, m models.Message) (models.Message, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (chat_id, sender_id, message_type, content, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, m.ChatID, m.SenderID, string(m.Type), m.Content, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET last_message_at = $2 WHERE id = $1`, m.ChatID, m.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("touch chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}
