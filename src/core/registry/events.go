package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// recordEvent appends one registry event inside the caller's transaction so
// the event row and the state change it records commit atomically. The log
// never diverges from state: no event without a real change, no change
// without a logged event.
func (s *Service) recordEvent(ctx context.Context, tx *sql.Tx, eventType, agentID string, data map[string]interface{}, ts time.Time) error {
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	insertSQL := fmt.Sprintf(`
		INSERT INTO registry_events (event_type, agent_id, timestamp, data)
		VALUES (%s)`, s.db.BuildParameterList(4))
	if _, err := tx.ExecContext(ctx, insertSQL, eventType, agentID, ts, string(payload)); err != nil {
		return fmt.Errorf("failed to record %s event for agent %s: %w", eventType, agentID, err)
	}
	return nil
}

// ListEvents returns the most recent registry events, newest first. The log
// is consumed for audit only; the resolver never reads it.
func (s *Service) ListEvents(ctx context.Context, limit int) (*EventsResponse, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, agent_id, timestamp, data
		FROM registry_events
		ORDER BY timestamp DESC, id DESC
		LIMIT %s`, s.db.GetParameterPlaceholder(1))

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]EventInfo, 0, limit)
	for rows.Next() {
		var event EventInfo
		var ts time.Time
		var data string
		if err := rows.Scan(&event.ID, &event.EventType, &event.AgentID, &ts, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Timestamp = ts.UTC().Format(time.RFC3339)
		if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
			event.Data = map[string]interface{}{}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return &EventsResponse{
		Events:    events,
		Count:     len(events),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// countEvents returns the number of events of a given type for an agent.
// Used by tests to assert exactly-once event semantics.
func (s *Service) countEvents(ctx context.Context, agentID, eventType string) (int, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM registry_events
		WHERE agent_id = %s AND event_type = %s`,
		s.db.GetParameterPlaceholder(1), s.db.GetParameterPlaceholder(2))

	var count int
	if err := s.db.QueryRowContext(ctx, query, agentID, eventType).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
