// Package postgres is the pgx-backed chat store. Command mutations run
// in a transaction holding the chat's row lock, so operations on the
// same chat are serialized while distinct chats proceed in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateChat(ctx context.Context, chat model.Chat, initiatorID string, recipients []model.UserSlim, seed []model.ChatMessage) error {
	defer logger.DeferLogDuration("chatStore.CreateChat", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatStore.CreateChat begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO chats (id, display_name, last_message_sent_utc, started_utc)
		 VALUES ($1, NULLIF($2, ''), $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		chat.ID, chat.DisplayName, chat.LastMessageSentUtc, chat.StartedUtc,
	)
	if err != nil {
		return fmt.Errorf("chatStore.CreateChat insert chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicateChat
	}

	for i, r := range recipients {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_profiles (id, display_name, profile_picture_url)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, profile_picture_url = EXCLUDED.profile_picture_url`,
			r.ID, r.DisplayName, r.ProfilePictureURL,
		); err != nil {
			return fmt.Errorf("chatStore.CreateChat upsert profile: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_recipients (chat_id, user_id, position) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			chat.ID, r.ID, i,
		); err != nil {
			return fmt.Errorf("chatStore.CreateChat insert recipient: %w", err)
		}
	}

	for _, m := range seed {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_messages (id, chat_id, sender_id, text, attachment_url, is_deleted, sent_utc)
			 VALUES ($1, $2, $3, $4, $5, false, $6)
			 ON CONFLICT (id) DO NOTHING`,
			m.ID, chat.ID, m.SenderID, m.Text, m.AttachmentURL, m.SentUtc,
		); err != nil {
			return fmt.Errorf("chatStore.CreateChat insert message: %w", err)
		}
		for _, r := range recipients {
			if r.ID == initiatorID {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO unread_messages (chat_id, sender_id, recipient_id, message_id, message_sent_utc)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT DO NOTHING`,
				chat.ID, m.SenderID, r.ID, m.ID, m.SentUtc,
			); err != nil {
				return fmt.Errorf("chatStore.CreateChat insert unread: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatStore.CreateChat commit: %w", err)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg model.ChatMessage) error {
	defer logger.DeferLogDuration("chatStore.AppendMessage", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatStore.AppendMessage begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock scoped to this chat: concurrent sends to the same chat
	// queue up here, other chats are unaffected.
	var chatID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM chats WHERE id = $1 FOR UPDATE`, msg.ChatID,
	).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("chatStore.AppendMessage lock chat: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO chat_messages (id, chat_id, sender_id, text, attachment_url, is_deleted, sent_utc)
		 VALUES ($1, $2, $3, $4, $5, false, $6)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.AttachmentURL, msg.SentUtc,
	)
	if err != nil {
		return fmt.Errorf("chatStore.AppendMessage insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Redelivery of an already-applied command; the first delivery
		// committed message, unread rows and watermark together.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO unread_messages (chat_id, sender_id, recipient_id, message_id, message_sent_utc)
		 SELECT $1, $2, cr.user_id, $3, $4
		 FROM chat_recipients cr
		 WHERE cr.chat_id = $1 AND cr.user_id != $2
		 ON CONFLICT DO NOTHING`,
		msg.ChatID, msg.SenderID, msg.ID, msg.SentUtc,
	); err != nil {
		return fmt.Errorf("chatStore.AppendMessage insert unread: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chats SET last_message_sent_utc = GREATEST(last_message_sent_utc, $2)
		 WHERE id = $1`,
		msg.ChatID, msg.SentUtc,
	); err != nil {
		return fmt.Errorf("chatStore.AppendMessage watermark: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatStore.AppendMessage commit: %w", err)
	}
	return nil
}

func (s *Store) SetDisplayName(ctx context.Context, chatID, name string, setUtc time.Time) error {
	defer logger.DeferLogDuration("chatStore.SetDisplayName", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET display_name = NULLIF($2, ''), name_set_utc = $3
		 WHERE id = $1 AND (name_set_utc IS NULL OR name_set_utc <= $3)`,
		chatID, name, setUtc,
	)
	if err != nil {
		return fmt.Errorf("chatStore.SetDisplayName: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.ChatExists(ctx, chatID)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrChatNotFound
		}
		// A newer rename already applied; stale redelivery is a no-op.
	}
	return nil
}

func (s *Store) SoftDeleteMessage(ctx context.Context, messageID, senderID string) error {
	defer logger.DeferLogDuration("chatStore.SoftDeleteMessage", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatStore.SoftDeleteMessage begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE chat_messages SET is_deleted = true WHERE id = $1 AND sender_id = $2`,
		messageID, senderID,
	)
	if err != nil {
		return fmt.Errorf("chatStore.SoftDeleteMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	// A deleted message no longer counts toward anyone's unread badge.
	if _, err := tx.Exec(ctx,
		`DELETE FROM unread_messages WHERE message_id = $1`, messageID,
	); err != nil {
		return fmt.Errorf("chatStore.SoftDeleteMessage clear unread: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatStore.SoftDeleteMessage commit: %w", err)
	}
	return nil
}
