package bus

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	apperrors "github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
)

// TestKafkaConfig_Validation tests configuration validation.
func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
			},
		},
		{
			name: "empty brokers",
			cfg: KafkaConfig{
				Brokers:       []string{},
				ConsumerGroup: "test-group",
			},
			wantErr: true,
		},
		{
			name: "empty consumer group",
			cfg: KafkaConfig{
				Brokers: []string{"localhost:9092"},
			},
			wantErr: true,
		},
		{
			name: "invalid kafka version",
			cfg: KafkaConfig{
				Brokers:       []string{"localhost:9092"},
				ConsumerGroup: "test-group",
				Version:       "invalid",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := cfg.saramaConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("saramaConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && apperrors.Code(err) != apperrors.CodeValidation {
				t.Errorf("saramaConfig() code = %q, want %q", apperrors.Code(err), apperrors.CodeValidation)
			}
		})
	}
}

func TestKafkaConfig_Defaults(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}
	sc, err := cfg.saramaConfig()
	if err != nil {
		t.Fatalf("saramaConfig() error = %v", err)
	}

	if cfg.ClientID != "ranktree" || sc.ClientID != "ranktree" {
		t.Errorf("ClientID = %q / %q, want ranktree", cfg.ClientID, sc.ClientID)
	}
	if cfg.Version != "2.8.0" {
		t.Errorf("Version = %q, want 2.8.0", cfg.Version)
	}
	if !sc.Producer.Return.Successes {
		t.Error("sync producer requires Producer.Return.Successes")
	}
	if sc.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf("RequiredAcks = %v, want WaitForAll", sc.Producer.RequiredAcks)
	}
}

func TestNewKafkaBus_InvalidConfig(t *testing.T) {
	_, err := NewKafkaBus(KafkaConfig{}, nil)
	if apperrors.Code(err) != apperrors.CodeValidation {
		t.Errorf("NewKafkaBus() error = %v, want validation error", err)
	}
}

// TestParseKafkaBrokers tests broker string parsing.
func TestParseKafkaBrokers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single broker",
			input: "localhost:9092",
			want:  []string{"localhost:9092"},
		},
		{
			name:  "multiple brokers",
			input: "broker1:9092,broker2:9092,broker3:9092",
			want:  []string{"broker1:9092", "broker2:9092", "broker3:9092"},
		},
		{
			name:  "brokers with spaces",
			input: "broker1:9092, broker2:9092 , broker3:9092",
			want:  []string{"broker1:9092", "broker2:9092", "broker3:9092"},
		},
		{
			name:  "empty entries dropped",
			input: "broker1:9092,,broker2:9092,",
			want:  []string{"broker1:9092", "broker2:9092"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKafkaBrokers(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseKafkaBrokers() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseKafkaBrokers()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEncodeMessage(t *testing.T) {
	event := NewEvent(TopicTreeFitted, "ranktree", "run-7", FittedPayload{Formula: "rankings ~ x", DF: 5})

	msg, err := encodeMessage(TopicTreeFitted, event)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}

	if msg.Topic != TopicTreeFitted {
		t.Errorf("Topic = %q", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != event.ID {
		t.Errorf("Key = %q, want %q", key, event.ID)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "correlation_id" || string(msg.Headers[0].Value) != "run-7" {
		t.Errorf("Headers = %+v", msg.Headers)
	}

	value, _ := msg.Value.Encode()
	var decoded Event
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("value is not json: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != TopicTreeFitted {
		t.Errorf("decoded = %+v", decoded)
	}

	plain, err := encodeMessage(TopicTreeSaved, Event{ID: "x"})
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}
	if len(plain.Headers) != 0 {
		t.Errorf("Headers without correlation id = %+v", plain.Headers)
	}
}

func TestKafkaBus_Dispatch(t *testing.T) {
	var logs bytes.Buffer
	b := &KafkaBus{
		log:      logger.NewWithWriter(&logs, "info", "json"),
		registry: newRegistry(),
	}

	var calls atomic.Int32
	b.topics[TopicTreeScored] = []Handler{
		func(ctx context.Context, event Event) error {
			if event.ID != "e1" {
				t.Errorf("event ID = %q, want e1", event.ID)
			}
			calls.Add(1)
			return nil
		},
		func(ctx context.Context, event Event) error {
			calls.Add(1)
			return apperrors.New(apperrors.CodeInternal, "handler failed")
		},
	}

	data, _ := json.Marshal(Event{ID: "e1", Type: TopicTreeScored, CorrelationID: "run-7"})
	b.dispatch(context.Background(), TopicTreeScored, data)
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
	if out := logs.String(); !strings.Contains(out, `"correlation_id":"run-7"`) || !strings.Contains(out, "handler failed") {
		t.Errorf("handler failure log = %q, want correlation id and error", out)
	}

	b.dispatch(context.Background(), TopicTreeScored, []byte("{broken"))
	if calls.Load() != 2 {
		t.Errorf("undecodable message reached handlers, calls = %d", calls.Load())
	}
}

func TestKafkaBus_ClosedRejectsPublishAndSubscribe(t *testing.T) {
	b := &KafkaBus{
		log:      logger.Discard(),
		registry: newRegistry(),
	}
	b.closed = true

	err := b.Publish(context.Background(), TopicTreeFitted, Event{ID: "1"})
	if apperrors.Code(err) != apperrors.CodeUnavailable {
		t.Errorf("Publish() on closed bus code = %q, want %q", apperrors.Code(err), apperrors.CodeUnavailable)
	}

	err = b.Subscribe(context.Background(), TopicTreeFitted, func(ctx context.Context, event Event) error { return nil })
	if apperrors.Code(err) != apperrors.CodeUnavailable {
		t.Errorf("Subscribe() on closed bus code = %q, want %q", apperrors.Code(err), apperrors.CodeUnavailable)
	}

	done := make(chan error, 1)
	go func() { done <- b.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() on closed bus error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() on closed bus blocked")
	}
}

// TestKafkaBus_Integration requires a running broker.
func TestKafkaBus_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b, err := NewKafkaBus(KafkaConfig{
		Brokers:       []string{"localhost:9092"},
		ConsumerGroup: "ranktree-test",
	}, nil)
	if err != nil {
		t.Skip("Skipping test - Kafka not running")
	}
	defer b.Close()

	received := make(chan Event, 1)
	topic := "ranktree-test." + TopicTreeFitted
	if err := b.Subscribe(context.Background(), topic, func(ctx context.Context, event Event) error {
		received <- event
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// consumer group join takes a moment
	time.Sleep(2 * time.Second)

	event := NewEvent(TopicTreeFitted, "test", "", FittedPayload{DF: 3})
	if err := b.Publish(context.Background(), topic, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.ID != event.ID {
			t.Errorf("received ID = %q, want %q", got.ID, event.ID)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Timeout waiting for kafka event")
	}
}
