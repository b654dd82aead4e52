package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formcoach/internal/logging"
)

// HistoryEntry is one persisted transcript turn.
type HistoryEntry struct {
	ConversationID string
	TurnNumber     int
	Speaker        string
	Content        string
	FieldTag       string
	CreatedAt      time.Time
}

// AppendTurn persists one transcript turn. Duplicate turn numbers within a
// conversation are ignored, so re-syncing a transcript is idempotent.
func (s *LocalStore) AppendTurn(entry HistoryEntry) error {
	timer := logging.StartTimer(logging.CategoryStore, "AppendTurn")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO session_history (conversation_id, turn_number, speaker, content, field_tag)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ConversationID, entry.TurnNumber, entry.Speaker, entry.Content, entry.FieldTag,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append turn %d for %s: %v",
			entry.TurnNumber, entry.ConversationID, err)
		return err
	}
	return nil
}

// History returns a conversation's turns in order.
func (s *LocalStore) History(conversationID string) ([]HistoryEntry, error) {
	timer := logging.StartTimer(logging.CategoryStore, "History")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT conversation_id, turn_number, speaker, content, field_tag, created_at
		 FROM session_history WHERE conversation_id = ? ORDER BY turn_number ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ConversationID, &e.TurnNumber, &e.Speaker, &e.Content, &e.FieldTag, &e.CreatedAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DeleteConversation removes a conversation's history, used on reset.
func (s *LocalStore) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM session_history WHERE conversation_id = ?", conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	logging.StoreDebug("Conversation %s history deleted", conversationID)
	return nil
}

// SaveReport persists a compiled report for a conversation.
func (s *LocalStore) SaveReport(conversationID, reportMD string, stagesExecuted int, partial bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveReport")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO reports (conversation_id, report_md, stages_executed, partial) VALUES (?, ?, ?, ?)`,
		conversationID, reportMD, stagesExecuted, partial,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save report for %s: %v", conversationID, err)
		return err
	}
	logging.Store("Report saved for %s (stages=%d partial=%v)", conversationID, stagesExecuted, partial)
	return nil
}

// LatestReport returns the most recent report for a conversation, or ""
// when none exists.
func (s *LocalStore) LatestReport(conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var report string
	err := s.db.QueryRow(
		`SELECT report_md FROM reports WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`,
		conversationID,
	).Scan(&report)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return report, nil
}

// PurgeHistoryBefore deletes history rows older than the cutoff across all
// conversations. Returns the number of rows removed.
func (s *LocalStore) PurgeHistoryBefore(cutoff time.Time) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "PurgeHistoryBefore")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM session_history WHERE created_at < ?", cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("failed to purge history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Purged %d history rows older than %s", n, cutoff.Format(time.RFC3339))
	}
	return n, nil
}
