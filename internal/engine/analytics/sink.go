// Package analytics appends observability events. Recording is
// fire-and-forget: a full buffer drops the event rather than ever
// blocking the critical path.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"communityos-bot/internal/common/logger"
	"communityos-bot/internal/common/metrics"
	"communityos-bot/internal/models"
	"communityos-bot/internal/store"
)

// Source tagged onto every engine-emitted analytics event.
const Source = "platform"

type Sink struct {
	store   store.Store
	es      *elasticsearch.Client
	esIndex string
	log     logger.Logger
	events  chan models.AnalyticsEvent
	done    chan struct{}
}

// New starts the sink worker. es may be nil to disable search indexing.
func New(st store.Store, es *elasticsearch.Client, esIndex string, buffer int, log logger.Logger) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		store:   st,
		es:      es,
		esIndex: esIndex,
		log:     log.WithFields(map[string]interface{}{"component": "analytics"}),
		events:  make(chan models.AnalyticsEvent, buffer),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

// Record enqueues one event. Missing ID/source/timestamp fields are
// filled in. Never blocks; a full buffer drops the event with a metric.
func (s *Sink) Record(event models.AnalyticsEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Source == "" {
		event.Source = Source
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case s.events <- event:
	default:
		metrics.AnalyticsDropped.Inc()
		s.log.Warn("analytics buffer full, dropping event", map[string]interface{}{
			"event":       event.Name,
			"communityId": event.CommunityID,
		})
	}
}

// Close stops accepting events, drains the buffer, and waits for the
// worker to finish.
func (s *Sink) Close() {
	close(s.events)
	<-s.done
}

func (s *Sink) worker() {
	defer close(s.done)
	for event := range s.events {
		s.persist(event)
	}
}

func (s *Sink) persist(event models.AnalyticsEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.InsertAnalyticsEvent(ctx, event); err != nil {
		s.log.Warn("analytics append failed", map[string]interface{}{
			"event": event.Name,
			"error": err.Error(),
		})
	}

	s.index(ctx, event)
}

// index mirrors the event into elasticsearch for dashboard search.
func (s *Sink) index(ctx context.Context, event models.AnalyticsEvent) {
	if s.es == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	res, err := s.es.Index(
		s.esIndex,
		bytes.NewReader(data),
		s.es.Index.WithDocumentID(event.ID),
		s.es.Index.WithContext(ctx),
	)
	if err != nil {
		s.log.Warn("analytics index failed", map[string]interface{}{
			"event": event.Name,
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.log.Warn("analytics index rejected", map[string]interface{}{
			"event":  event.Name,
			"status": res.Status(),
		})
	}
}
