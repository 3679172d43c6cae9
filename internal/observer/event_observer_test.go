package observer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type recordingObserver struct {
	mu     sync.Mutex
	name   string
	events []ClassificationEvent
}

func (r *recordingObserver) OnEvent(_ context.Context, event ClassificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) GetObserverName() string { return r.name }

type panickingObserver struct{}

func (panickingObserver) OnEvent(context.Context, ClassificationEvent) { panic("boom") }
func (panickingObserver) GetObserverName() string                     { return "panicker" }

func TestMetricsObserver(t *testing.T) {
	metrics := NewMetricsObserver()
	ctx := context.Background()

	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationStarted, Backend: "local"})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationCompleted, Label: "Tomato___healthy", ProcessingTime: 40 * time.Millisecond})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationStarted, Backend: "local"})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationCompleted, Label: "Tomato___healthy", ProcessingTime: 20 * time.Millisecond})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationStarted, Backend: "remote"})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: ClassificationFailed, Stage: "infer"})
	metrics.OnEvent(ctx, ClassificationEvent{EventType: LeafRejected})

	got := metrics.GetMetrics()

	if got["total_classifications"] != int64(3) {
		t.Errorf("Expected 3 total, got %v", got["total_classifications"])
	}
	if got["successful_classifications"] != int64(2) {
		t.Errorf("Expected 2 successful, got %v", got["successful_classifications"])
	}
	if got["failed_classifications"] != int64(1) {
		t.Errorf("Expected 1 failed, got %v", got["failed_classifications"])
	}
	if got["leaf_rejections"] != int64(1) {
		t.Errorf("Expected 1 leaf rejection, got %v", got["leaf_rejections"])
	}
	if got["avg_processing_time_ms"] != int64(30) {
		t.Errorf("Expected 30ms average, got %v", got["avg_processing_time_ms"])
	}

	byLabel := got["predictions_by_label"].(map[string]int64)
	if byLabel["Tomato___healthy"] != 2 {
		t.Errorf("Expected 2 healthy predictions, got %d", byLabel["Tomato___healthy"])
	}
	byStage := got["failures_by_stage"].(map[string]int64)
	if byStage["infer"] != 1 {
		t.Errorf("Expected 1 infer failure, got %d", byStage["infer"])
	}
	byBackend := got["requests_by_backend"].(map[string]int64)
	if byBackend["local"] != 2 || byBackend["remote"] != 1 {
		t.Errorf("Unexpected backend counts: %v", byBackend)
	}

	// snapshot must not alias internal state
	byLabel["Tomato___healthy"] = 99
	if metrics.GetMetrics()["predictions_by_label"].(map[string]int64)["Tomato___healthy"] != 2 {
		t.Error("Expected metrics snapshot to be a copy")
	}
}

func TestSyncEventPublisher(t *testing.T) {
	publisher := NewSyncEventPublisher()
	first := &recordingObserver{name: "first"}
	second := &recordingObserver{name: "second"}

	publisher.Subscribe(first)
	publisher.Subscribe(panickingObserver{})
	publisher.Subscribe(second)

	publisher.NotifyObservers(context.Background(), ClassificationEvent{EventType: ClassificationStarted})

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("Expected both observers notified despite panic, got %d and %d", len(first.events), len(second.events))
	}
	if first.events[0].Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled in")
	}

	publisher.Unsubscribe(first)
	publisher.NotifyObservers(context.Background(), ClassificationEvent{EventType: ClassificationCompleted})

	if len(first.events) != 1 {
		t.Errorf("Expected unsubscribed observer to receive nothing, got %d events", len(first.events))
	}
	if len(second.events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(second.events))
	}
}

func TestAsyncEventPublisher(t *testing.T) {
	publisher := NewEventPublisher()
	rec := &recordingObserver{name: "rec"}
	publisher.Subscribe(rec)

	publisher.NotifyObservers(context.Background(), ClassificationEvent{EventType: ClassificationFailed})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		n := len(rec.events)
		rec.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("Expected asynchronous delivery within one second")
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	obs := NewLoggingObserver(log)
	obs.OnEvent(context.Background(), ClassificationEvent{
		EventType:    ClassificationFailed,
		Backend:      "remote",
		Stage:        "infer",
		ErrorMessage: "model unavailable",
	})

	out := buf.String()
	for _, want := range []string{`"stage":"infer"`, `"error":"model unavailable"`, `"level":"error"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
}
