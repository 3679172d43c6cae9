package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClassificationEvent describes one step in the life of a classification
// request
type ClassificationEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestID      string                 `json:"request_id,omitempty"`
	Source         string                 `json:"source,omitempty"`
	Backend        string                 `json:"backend,omitempty"`
	Stage          string                 `json:"stage,omitempty"`
	Label          string                 `json:"label,omitempty"`
	Confidence     float64                `json:"confidence,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	Success        bool                   `json:"success"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of classification event
type EventType string

const (
	ClassificationStarted   EventType = "classification_started"
	ClassificationCompleted EventType = "classification_completed"
	ClassificationFailed    EventType = "classification_failed"
	// ImageFetched when a remote image URL was downloaded
	ImageFetched     EventType = "image_fetched"
	ImageFetchFailed EventType = "image_fetch_failed"
	// LeafRejected when an upload fails the green-pixel leaf check
	LeafRejected EventType = "leaf_rejected"
)

type Observer interface {
	OnEvent(ctx context.Context, event ClassificationEvent)
	GetObserverName() string
}

type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ClassificationEvent)
}

// LoggingObserver logs classification events
type LoggingObserver struct {
	logger *logrus.Logger
}

func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

func (o *LoggingObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"backend":         event.Backend,
		"processing_time": event.ProcessingTime,
		"success":         event.Success,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.Label != "" {
		fields["label"] = event.Label
		fields["confidence"] = event.Confidence
	}
	if event.Stage != "" {
		fields["stage"] = event.Stage
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	switch event.EventType {
	case ClassificationStarted:
		o.logger.WithFields(fields).Debug("Classification started")
	case ClassificationCompleted:
		o.logger.WithFields(fields).Info("Classification completed")
	case ClassificationFailed:
		o.logger.WithFields(fields).Error("Classification failed")
	case ImageFetched:
		o.logger.WithFields(fields).Debug("Image fetched successfully")
	case ImageFetchFailed:
		o.logger.WithFields(fields).Error("Image fetch failed")
	case LeafRejected:
		o.logger.WithFields(fields).Warn("Upload rejected by leaf check")
	default:
		o.logger.WithFields(fields).Info("Classification event occurred")
	}
}

func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver aggregates counts and latency from classification events
type MetricsObserver struct {
	mu                  sync.RWMutex
	total               int64
	successful          int64
	failed              int64
	leafRejected        int64
	totalProcessingTime time.Duration
	byLabel             map[string]int64
	failuresByStage     map[string]int64
	byBackend           map[string]int64
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		byLabel:         make(map[string]int64),
		failuresByStage: make(map[string]int64),
		byBackend:       make(map[string]int64),
	}
}

func (o *MetricsObserver) OnEvent(ctx context.Context, event ClassificationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ClassificationStarted:
		o.total++
		if event.Backend != "" {
			o.byBackend[event.Backend]++
		}
	case ClassificationCompleted:
		o.successful++
		o.totalProcessingTime += event.ProcessingTime
		if event.Label != "" {
			o.byLabel[event.Label]++
		}
	case ClassificationFailed:
		o.failed++
		if event.Stage != "" {
			o.failuresByStage[event.Stage]++
		}
	case LeafRejected:
		o.leafRejected++
	}
}

func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns a snapshot safe to serialize
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.successful > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.successful)
	}

	return map[string]interface{}{
		"total_classifications":      o.total,
		"successful_classifications": o.successful,
		"failed_classifications":     o.failed,
		"leaf_rejections":            o.leafRejected,
		"total_processing_time_ms":   o.totalProcessingTime.Milliseconds(),
		"avg_processing_time_ms":     avgProcessingTime.Milliseconds(),
		"predictions_by_label":       copyCounts(o.byLabel),
		"failures_by_stage":          copyCounts(o.failuresByStage),
		"requests_by_backend":        copyCounts(o.byBackend),
	}
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu          sync.RWMutex
	observers   []Observer
	synchronous bool
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// NewSyncEventPublisher delivers events on the caller's goroutine, in
// subscription order
func NewSyncEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers:   make([]Observer, 0),
		synchronous: true,
	}
}

func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers fans an event out to every observer. A panicking
// observer is logged and does not affect the others.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event ClassificationEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		if p.synchronous {
			notify(ctx, observer, event)
			continue
		}
		go notify(ctx, observer, event)
	}
}

func notify(ctx context.Context, obs Observer, event ClassificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
