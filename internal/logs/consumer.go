// -----------------------------------------------------------------------
// Log consumer - drains arbor's context channel into the in-memory ring
// behind the logs endpoint, republishing notable lines as events.
// -----------------------------------------------------------------------

package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// Consumer receives log batches from arbor and appends them to the ring.
// Lines at or above minEventLevel are also published on the event bus for
// the WebSocket stream.
type Consumer struct {
	ring          *Ring
	events        interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	minEventLevel int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer builds the consumer. events may be nil to disable
// republishing.
func NewConsumer(ring *Ring, events interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	rank, ok := levelRank[normalizeLevel(minEventLevel)]
	if !ok {
		rank = levelRank["INF"]
	}
	return &Consumer{
		ring:          ring,
		events:        events,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		minEventLevel: rank,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Channel returns the channel arbor delivers log batches to. Registered
// with the root logger via SetChannel.
func (c *Consumer) Channel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consume()
}

// Stop drains and shuts down the consumer.
func (c *Consumer) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *Consumer) consume() {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			c.ingest(batch)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) ingest(batch []arbormodels.LogEvent) {
	for _, event := range batch {
		entry := transformEvent(event)
		c.ring.Append(entry)

		if c.events == nil {
			continue
		}
		if rank, known := levelRank[entry.Level]; !known || rank < c.minEventLevel {
			continue
		}
		if err := c.events.Publish(c.ctx, interfaces.Event{Type: interfaces.EventLogEntry, Payload: entry}); err != nil {
			// Deliberately not logged: a log line about a failed log line
			// would feed back into this channel.
			continue
		}
	}
}

// transformEvent converts an arbor log event into a ring entry. The
// job_id field, when present, is promoted out of the message; remaining
// fields append as key=value pairs in stable order.
func transformEvent(event arbormodels.LogEvent) models.LogEntry {
	message := event.Message
	var jobID string

	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			if key == "job_id" {
				jobID = fmt.Sprintf("%v", event.Fields[key])
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			message += fmt.Sprintf(" %s=%v", key, event.Fields[key])
		}
	}

	return models.LogEntry{
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339Nano),
		Level:         displayLevel(event.Level.String()),
		Message:       message,
		JobID:         jobID,
		CorrelationID: event.CorrelationID,
	}
}

// displayLevel converts arbor's level names to the 3-letter display form.
func displayLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return "DBG"
	case "info":
		return "INF"
	case "warn", "warning":
		return "WRN"
	case "error", "fatal", "panic":
		return "ERR"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}
