package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jordanella.com/pogo-fleet/internal/events"
)

// Activity is one recorded lifecycle event of an account
type Activity struct {
	ID         int64
	Username   string
	EventType  string
	Detail     string
	OccurredAt time.Time
}

// RecordActivity appends an entry to the account history
func (db *DB) RecordActivity(ctx context.Context, username, eventType, detail string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO account_activity (username, event_type, detail, occurred_at)
		VALUES (?, ?, ?, ?)
	`, username, eventType, detail, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

// GetRecentActivityForAccount returns the newest entries for username
func (db *DB) GetRecentActivityForAccount(ctx context.Context, username string, limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, username, event_type, COALESCE(detail, ''), occurred_at
		FROM account_activity
		WHERE username = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := []*Activity{}
	for rows.Next() {
		activity := &Activity{}
		var occurredAt int64
		if err := rows.Scan(&activity.ID, &activity.Username, &activity.EventType, &activity.Detail, &occurredAt); err != nil {
			return nil, err
		}
		activity.OccurredAt = time.UnixMilli(occurredAt)
		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

// GetActivityStats counts entries per event type since the given time
func (db *DB) GetActivityStats(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_type, COUNT(*) as count
		FROM account_activity
		WHERE occurred_at >= ?
		GROUP BY event_type
	`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats[eventType] = count
	}

	return stats, rows.Err()
}

// DeleteOldActivities deletes entries older than the specified time
func (db *DB) DeleteOldActivities(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `
		DELETE FROM account_activity
		WHERE occurred_at < ?
	`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ActivityRecorder writes account events from the bus into account_activity
type ActivityRecorder struct {
	db    *DB
	bus   events.EventBus
	subID events.SubscriptionID
}

// NewActivityRecorder subscribes to every event on bus and records the ones
// that name an account
func NewActivityRecorder(db *DB, bus events.EventBus) *ActivityRecorder {
	r := &ActivityRecorder{db: db, bus: bus}
	r.subID = bus.Subscribe(events.EventTypeAll, r.handleEvent)
	return r
}

func (r *ActivityRecorder) handleEvent(event events.Event) {
	username := event.Username()
	if username == "" {
		return
	}

	detail := make(map[string]interface{}, len(event.Data))
	for k, v := range event.Data {
		if k != "account" {
			detail[k] = v
		}
	}
	var encoded string
	if len(detail) > 0 {
		if data, err := json.Marshal(detail); err == nil {
			encoded = string(data)
		}
	}

	if err := r.db.RecordActivity(context.Background(), username, string(event.Type), encoded, event.Timestamp); err != nil {
		r.db.logger.Error("Failed to record account activity", err)
	}
}

// Close stops recording
func (r *ActivityRecorder) Close() {
	r.bus.Unsubscribe(r.subID)
}
