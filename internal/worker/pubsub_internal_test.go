package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingSettler struct{ acks, nacks int }

func (s *recordingSettler) Ack()  { s.acks++ }
func (s *recordingSettler) Nack() { s.nacks++ }

type stubPurger struct{ err error }

func (p stubPurger) Purge(context.Context) (int64, error) { return 4, p.err }

func TestDelivery_Settles(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		purgeErr  error
		wantAck   bool
		wantLevel string
	}{
		{"completed", `{"job_type":"distance_cache_purge"}`, nil, true, "info"},
		{"unknown job", `{"job_type":"reindex"}`, nil, true, "warn"},
		{"plan without body", `{"job_type":"plan_route"}`, nil, true, "warn"},
		{"transient failure", `{"job_type":"distance_cache_purge"}`, errors.New("connection reset"), false, "error"},
		{"malformed", `{"job_type":`, nil, false, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			p := NewProcessor(ProcessorConfig{Purger: stubPurger{err: tt.purgeErr}, Logger: zerolog.Nop()})
			d := newDelivery(p, zerolog.New(&logs))
			s := &recordingSettler{}

			attempt := 3
			d.handle(context.Background(), envelope{ID: "m-1", Data: []byte(tt.data), Attempt: &attempt}, s)

			if tt.wantAck {
				assert.Equal(t, recordingSettler{acks: 1}, *s)
			} else {
				assert.Equal(t, recordingSettler{nacks: 1}, *s)
			}

			var entry map[string]any
			require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "m-1", entry["message_id"])
			assert.Equal(t, float64(3), entry["delivery_attempt"])
		})
	}
}

func TestDelivery_ContinuesPublisherTrace(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	d := newDelivery(NewProcessor(ProcessorConfig{Logger: zerolog.Nop()}), zerolog.Nop())
	d.handle(context.Background(), envelope{
		ID:          "m-2",
		Data:        []byte(`{"job_type":"distance_cache_purge"}`),
		Attributes:  map[string]string{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"},
		PublishTime: time.Now().Add(-time.Second),
	}, &recordingSettler{})

	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "worker.job", ended[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", ended[0].SpanContext().TraceID().String())
}
