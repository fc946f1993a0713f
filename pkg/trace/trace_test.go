package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), &Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	shutdown, err = InitTracing(context.Background(), nil, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
}

func TestInitTracing_UnknownProtocol(t *testing.T) {
	_, err := InitTracing(context.Background(), &Config{Enabled: true, Protocol: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, 0.0, ClampRate(-1))
	assert.Equal(t, 0.25, ClampRate(0.25))
	assert.Equal(t, 1.0, ClampRate(3))
}

func TestSpanScope(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s := Tracer("oauthd/test").Start(context.Background(), "token.create")
	s.WithAttrs(attribute.String("client_id", "c1")).Fail(errors.New("boom")).Fail(nil)
	s.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "token.create", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), attribute.String("client_id", "c1"))

	var nilScope *SpanScope
	assert.NotPanics(t, func() { nilScope.WithAttrs().Fail(errors.New("x")).End() })
}
