package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jordnaer/chat/internal/logger"
)

func (s *Store) UnreadCount(ctx context.Context, chatID, recipientID string) (int, error) {
	defer logger.DeferLogDuration("chatStore.UnreadCount", time.Now())()
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM unread_messages
		 WHERE chat_id = $1 AND recipient_id = $2`,
		chatID, recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("chatStore.UnreadCount: %w", err)
	}
	return count, nil
}

func (s *Store) TotalUnreadCount(ctx context.Context, recipientID string) (int, error) {
	defer logger.DeferLogDuration("chatStore.TotalUnreadCount", time.Now())()
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM unread_messages WHERE recipient_id = $1`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("chatStore.TotalUnreadCount: %w", err)
	}
	return count, nil
}

// MarkRead deletes only rows at or before the acknowledged timestamp, so
// a message committed concurrently with the acknowledgement keeps its
// unread row.
func (s *Store) MarkRead(ctx context.Context, chatID, recipientID string, upto time.Time) (int64, error) {
	defer logger.DeferLogDuration("chatStore.MarkRead", time.Now())()
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM unread_messages
		 WHERE chat_id = $1 AND recipient_id = $2 AND message_sent_utc <= $3`,
		chatID, recipientID, upto,
	)
	if err != nil {
		return 0, fmt.Errorf("chatStore.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}
