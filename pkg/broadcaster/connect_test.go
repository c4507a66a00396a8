package broadcaster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zachfi/scannercast/pkg/session"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		require.NoError(t, tp.Shutdown(context.Background()))
	})
	return sr
}

func TestConnectSpan(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  codes.Code
		state session.State
	}{
		{"connected", nil, codes.Ok, session.Connected},
		{"denied", session.Errorf(session.InvalidCredentials, "denied"), codes.Error, session.InvalidCredentials},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sr := recordSpans(t)
			d := newDestination(t, Config{}, &fakeTransport{connectErr: tc.err})

			d.connect(context.Background())
			assert.Equal(t, tc.state, d.ConnectionState())

			spans := sr.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "Destination.connect", span.Name())
			assert.Equal(t, tc.code, span.Status().Code)
			assert.Contains(t, span.Attributes(), attribute.String("state", tc.state.String()))
			if tc.err != nil {
				require.Len(t, span.Events(), 1)
				assert.Equal(t, "exception", span.Events()[0].Name)
			} else {
				assert.Empty(t, span.Events())
			}
		})
	}
}
