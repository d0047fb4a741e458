package logs

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/interfaces"
	"github.com/ternarybob/laboro/internal/models"
)

// Service owns the log ring and its arbor consumer, and answers tail
// queries for the logs endpoint.
type Service struct {
	ring     *Ring
	consumer *Consumer
	logger   arbor.ILogger
}

// NewService builds the ring and consumer from config.
func NewService(events interfaces.EventService, logger arbor.ILogger, bufferSize int, minEventLevel string) *Service {
	ring := NewRing(bufferSize)
	return &Service{
		ring:     ring,
		consumer: NewConsumer(ring, events, logger, minEventLevel),
		logger:   logger,
	}
}

// Consumer exposes the arbor channel consumer for logger registration.
func (s *Service) Consumer() *Consumer {
	return s.consumer
}

// Start begins draining the arbor channel.
func (s *Service) Start() {
	s.consumer.Start()
	s.logger.Info().
		Int("capacity", s.ring.capacity).
		Msg("Log ring started")
}

// Stop halts the consumer. Retained entries stay queryable.
func (s *Service) Stop() {
	s.consumer.Stop()
}

// Tail returns retained entries matching the filter, oldest first, and
// the match count before limiting.
func (s *Service) Tail(filter Filter) ([]models.LogEntry, int) {
	return s.ring.Tail(filter)
}

// Append writes an entry directly, bypassing arbor. Used by tests and by
// subsystems that produce synthetic entries.
func (s *Service) Append(entry models.LogEntry) {
	s.ring.Append(entry)
}
