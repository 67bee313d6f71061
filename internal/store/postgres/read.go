package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jordnaer/chat/internal/logger"
	"github.com/jordnaer/chat/internal/model"
	"github.com/jordnaer/chat/internal/store"
)

func (s *Store) GetChat(ctx context.Context, chatID string) (model.Chat, error) {
	defer logger.DeferLogDuration("chatStore.GetChat", time.Now())()
	var c model.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(display_name, ''), last_message_sent_utc, started_utc
		 FROM chats WHERE id = $1`, chatID,
	).Scan(&c.ID, &c.DisplayName, &c.LastMessageSentUtc, &c.StartedUtc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Chat{}, store.ErrChatNotFound
	}
	if err != nil {
		return model.Chat{}, fmt.Errorf("chatStore.GetChat: %w", err)
	}
	return c, nil
}

func (s *Store) ChatExists(ctx context.Context, chatID string) (bool, error) {
	defer logger.DeferLogDuration("chatStore.ChatExists", time.Now())()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chats WHERE id = $1)`, chatID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatStore.ChatExists: %w", err)
	}
	return exists, nil
}

func (s *Store) MessageExists(ctx context.Context, messageID string) (bool, error) {
	defer logger.DeferLogDuration("chatStore.MessageExists", time.Now())()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_messages WHERE id = $1)`, messageID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatStore.MessageExists: %w", err)
	}
	return exists, nil
}

func (s *Store) GetRecipients(ctx context.Context, chatID string) ([]model.UserSlim, error) {
	defer logger.DeferLogDuration("chatStore.GetRecipients", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.display_name, COALESCE(u.profile_picture_url, '')
		 FROM user_profiles u
		 JOIN chat_recipients cr ON cr.user_id = u.id
		 WHERE cr.chat_id = $1
		 ORDER BY cr.position, cr.user_id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatStore.GetRecipients query: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserSlim, 0, 8)
	for rows.Next() {
		var u model.UserSlim
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.ProfilePictureURL); err != nil {
			return nil, fmt.Errorf("chatStore.GetRecipients scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatStore.GetRecipients rows: %w", err)
	}
	return users, nil
}

func (s *Store) GetRecipientIDs(ctx context.Context, chatID string) ([]string, error) {
	defer logger.DeferLogDuration("chatStore.GetRecipientIDs", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM chat_recipients WHERE chat_id = $1 ORDER BY position, user_id`, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatStore.GetRecipientIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatStore.GetRecipientIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatStore.GetRecipientIDs rows: %w", err)
	}
	return ids, nil
}

func (s *Store) IsRecipient(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chatStore.IsRecipient", time.Now())()
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_recipients WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatStore.IsRecipient: %w", err)
	}
	return exists, nil
}

func (s *Store) ListChats(ctx context.Context, userID string, skip, take int) ([]model.ChatDto, error) {
	defer logger.DeferLogDuration("chatStore.ListChats", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, COALESCE(c.display_name, ''), c.last_message_sent_utc, c.started_utc,
		        (SELECT COUNT(*) FROM unread_messages um
		         WHERE um.chat_id = c.id AND um.recipient_id = $1)
		 FROM chats c
		 JOIN chat_recipients cr ON cr.chat_id = c.id
		 WHERE cr.user_id = $1
		 ORDER BY c.last_message_sent_utc DESC
		 OFFSET $2 LIMIT $3`, userID, skip, take,
	)
	if err != nil {
		return nil, fmt.Errorf("chatStore.ListChats query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.ChatDto, 0, take)
	for rows.Next() {
		var c model.ChatDto
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.LastMessageSentUtc, &c.StartedUtc, &c.UnreadMessageCount); err != nil {
			return nil, fmt.Errorf("chatStore.ListChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatStore.ListChats rows: %w", err)
	}

	for i := range chats {
		recipients, err := s.GetRecipients(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Recipients = recipients
	}
	return chats, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string, skip, take int) ([]model.ChatMessageDto, error) {
	defer logger.DeferLogDuration("chatStore.ListMessages", time.Now())()
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, sender_id, text, COALESCE(attachment_url, ''), sent_utc
		 FROM chat_messages
		 WHERE chat_id = $1 AND is_deleted = false
		 ORDER BY sent_utc
		 OFFSET $2 LIMIT $3`, chatID, skip, take,
	)
	if err != nil {
		return nil, fmt.Errorf("chatStore.ListMessages query: %w", err)
	}
	defer rows.Close()

	msgs := make([]model.ChatMessageDto, 0, take)
	for rows.Next() {
		var m model.ChatMessageDto
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.AttachmentURL, &m.SentUtc); err != nil {
			return nil, fmt.Errorf("chatStore.ListMessages scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatStore.ListMessages rows: %w", err)
	}
	return msgs, nil
}

func (s *Store) FindChatByRecipients(ctx context.Context, userIDs []string) (string, error) {
	defer logger.DeferLogDuration("chatStore.FindChatByRecipients", time.Now())()
	var chatID string
	err := s.pool.QueryRow(ctx,
		`SELECT cr.chat_id
		 FROM chat_recipients cr
		 GROUP BY cr.chat_id
		 HAVING COUNT(*) = cardinality($1::text[])
		    AND COUNT(*) FILTER (WHERE cr.user_id = ANY($1)) = cardinality($1::text[])
		 LIMIT 1`, userIDs,
	).Scan(&chatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chatStore.FindChatByRecipients: %w", err)
	}
	return chatID, nil
}
