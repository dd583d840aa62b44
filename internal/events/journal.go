package events

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jordanella.com/pogo-fleet/internal/logging"
)

// Journal subscribes to every event on a bus and appends it to a log file
type Journal struct {
	logger         *logging.Logger
	eventBus       EventBus
	subscriptionID SubscriptionID
	logFile        *os.File
}

// NewJournal creates a journal writing to logDir/events_<timestamp>.log
func NewJournal(eventBus EventBus, logDir string) (*Journal, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, fmt.Sprintf("events_%s.log", timestamp))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	j := &Journal{
		logger:   logging.NewLogger("Journal").AddOutput(logFile),
		eventBus: eventBus,
		logFile:  logFile,
	}
	j.subscriptionID = eventBus.Subscribe(EventTypeAll, j.handleEvent)

	return j, nil
}

// Path returns the file the journal writes to
func (j *Journal) Path() string {
	return j.logFile.Name()
}

func (j *Journal) handleEvent(event Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}
	for k, v := range event.Data {
		context[k] = v
	}

	j.logger.InfoWithContext(fmt.Sprintf("Event: %s", event.Type), context)
}

// Close unsubscribes and closes the log file
func (j *Journal) Close() error {
	j.eventBus.Unsubscribe(j.subscriptionID)
	if j.logFile != nil {
		return j.logFile.Close()
	}
	return nil
}
