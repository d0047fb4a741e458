package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events.
// Payloads are typed model values; the switch pulls out the identifiers
// worth correlating on.
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch p := event.Payload.(type) {
		case *models.ScrapeJob:
			logEvent = logEvent.
				Str("job_id", p.ID).
				Str("board_id", p.BoardID).
				Str("status", string(p.Status))
		case models.JobProgress:
			logEvent = logEvent.
				Str("job_id", p.JobID).
				Int("page", p.Page).
				Int("items_found", p.Counters.ItemsFound)
		case *models.JobBoard:
			logEvent = logEvent.
				Str("board_id", p.ID).
				Str("board", p.Name)
		case *models.ScheduleConfig:
			logEvent = logEvent.
				Str("schedule_id", p.ID).
				Str("board_id", p.BoardID)
		case *models.EngineState:
			logEvent = logEvent.
				Str("status", string(p.Status)).
				Int("active_jobs", p.ActiveJobsCount)
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	// Subscribe to all event types
	eventTypes := []interfaces.EventType{
		interfaces.EventJobCreated,
		interfaces.EventJobStarted,
		interfaces.EventJobProgress,
		interfaces.EventJobCompleted,
		interfaces.EventJobFailed,
		interfaces.EventJobCancelled,
		interfaces.EventJobPaused,
		interfaces.EventBoardFlagged,
		interfaces.EventEngineStatus,
		interfaces.EventScheduleFired,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Info().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
