package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// EventTypeAll subscribes a handler to every event
	EventTypeAll EventType = "*"

	// Account lifecycle events
	EventTypeAccountAllocated   EventType = "account.allocated"
	EventTypeAccountReallocated EventType = "account.reallocated"
	EventTypeAccountFreed       EventType = "account.freed"
	EventTypeAccountBanned      EventType = "account.banned"
	EventTypeAccountPermBanned  EventType = "account.perm_banned"
	EventTypeAccountLoginFailed EventType = "account.login_failed"
	EventTypeAccountBlinded     EventType = "account.blinded"
	EventTypeAccountWarned      EventType = "account.warned"
	EventTypeAccountRested      EventType = "account.rested"
	EventTypeAccountIPBanned    EventType = "account.ip_banned"
	EventTypeAccountReplaced    EventType = "account.replaced"

	// Pool events
	EventTypePoolExhausted EventType = "pool.exhausted"
	EventTypePoolRefreshed EventType = "pool.refreshed"

	// Worker events
	EventTypeWorkerStarted EventType = "worker.started"
	EventTypeWorkerStopped EventType = "worker.stopped"
	EventTypeUnitAbandoned EventType = "worker.unit_abandoned"
	EventTypeUnitCompleted EventType = "worker.unit_completed"

	// Pipeline events
	EventTypeActionAbandoned EventType = "api.action_abandoned"
)

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g. "pool", "worker")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// Username returns the "account" data field, empty when absent
func (e Event) Username() string {
	if v, ok := e.Data["account"].(string); ok {
		return v
	}
	return ""
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	// Subscribe registers a handler for a specific event type
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID

	// Unsubscribe removes a subscription by ID
	Unsubscribe(id SubscriptionID)

	// Publish sends an event to all subscribers (blocking)
	Publish(event Event)

	// PublishAsync sends an event asynchronously (non-blocking)
	PublishAsync(event Event)

	// Stop stops the event bus and drains remaining events
	Stop()
}

// NewAccountEvent creates an account lifecycle event
func NewAccountEvent(eventType EventType, username string, data map[string]interface{}) Event {
	payload := map[string]interface{}{"account": username}
	for k, v := range data {
		payload[k] = v
	}
	return Event{
		Type:      eventType,
		Source:    "pool",
		Timestamp: time.Now(),
		Data:      payload,
	}
}

// NewAccountReplacedEvent creates an event for a mid-call account swap
func NewAccountReplacedEvent(oldUsername, newUsername, reason string) Event {
	return Event{
		Type:      EventTypeAccountReplaced,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"account":     oldUsername,
			"replacement": newUsername,
			"reason":      reason,
		},
	}
}

// NewPoolExhaustedEvent creates an event for a failed allocation
func NewPoolExhaustedEvent(owner string, attempts int) Event {
	return Event{
		Type:      EventTypePoolExhausted,
		Source:    "pool",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"owner":    owner,
			"attempts": attempts,
		},
	}
}

// NewPoolRefreshedEvent creates a pool refreshed event
func NewPoolRefreshedEvent(owner string, totalAccounts, availableAccounts int) Event {
	return Event{
		Type:      EventTypePoolRefreshed,
		Source:    "pool",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"owner":              owner,
			"total_accounts":     totalAccounts,
			"available_accounts": availableAccounts,
		},
	}
}

// NewWorkerEvent creates a worker lifecycle event
func NewWorkerEvent(eventType EventType, workerID int, data map[string]interface{}) Event {
	payload := map[string]interface{}{"worker_id": workerID}
	for k, v := range data {
		payload[k] = v
	}
	return Event{
		Type:      eventType,
		Source:    "worker",
		Timestamp: time.Now(),
		Data:      payload,
	}
}

// NewActionAbandonedEvent creates an event for an action whose retries ran out
func NewActionAbandonedEvent(username, action string, err error) Event {
	data := map[string]interface{}{
		"account": username,
		"action":  action,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return Event{
		Type:      EventTypeActionAbandoned,
		Source:    "pipeline",
		Timestamp: time.Now(),
		Data:      data,
	}
}
