package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"petsim/internal/models"
)

func (s *Store) CreateChat(ctx context.Context, c models.Chat) (models.Chat, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (user_id, pet_id, created_at, last_message_at) VALUES (?, ?, ?, ?)
	`, c.UserID, c.PetID, millis(c.CreatedAt), nullMillis(c.LastMessageAt))
	if err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return models.Chat{}, fmt.Errorf("chat id: %w", err)
	}
	return c, nil
}

// IdleChats returns chats of visible pets whose newest non-deleted message is
// older than before. LastMessageAt is set to that message's time.
func (s *Store) IdleChats(ctx context.Context, before time.Time) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.pet_id, c.created_at, m.last_at
		FROM chats c
		JOIN pets p ON p.id = c.pet_id
		JOIN (
			SELECT chat_id, MAX(created_at) AS last_at
			FROM messages
			WHERE is_deleted = 0
			GROUP BY chat_id
		) m ON m.chat_id = c.id
		WHERE m.last_at < ? AND p.is_deleted = 0 AND p.is_lost = 0
		ORDER BY c.id
	`, millis(before))
	if err != nil {
		return nil, fmt.Errorf("query idle chats: %w", err)
	}
	defer rows.Close()
	var out []models.Chat
	for rows.Next() {
		var (
			c       models.Chat
			created int64
			last    sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.PetID, &created, &last); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.CreatedAt = fromMillis(created)
		c.LastMessageAt = fromNullMillis(last)
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentMessages returns up to limit non-deleted messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, chatID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, message_type, content, created_at
		FROM messages
		WHERE chat_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var (
			m       models.Message
			sender  sql.NullInt64
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &sender, &m.Type, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if sender.Valid {
			m.SenderID = &sender.Int64
		}
		m.CreatedAt = fromMillis(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMessage appends m and moves the chat's last_message_at forward.
func (s *Store) AddMessage(ctx context.Context, m models.Message) (models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var sender any
	if m.SenderID != nil {
		sender = *m.SenderID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, message_type, content, created_at) VALUES (?, ?, ?, ?, ?)
	`, m.ChatID, sender, string(m.Type), m.Content, millis(m.CreatedAt))
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return models.Message{}, fmt.Errorf("message id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chats SET last_message_at = ? WHERE id = ?`, millis(m.CreatedAt), m.ChatID); err != nil {
		return models.Message{}, fmt.Errorf("touch chat: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}
