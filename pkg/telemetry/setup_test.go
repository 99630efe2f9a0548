package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerToWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown := InitTracerTo(context.Background(), "toxotis-test", &buf)

	_, span := Tracer().Start(context.Background(), "unit.span")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "unit.span")
	assert.Contains(t, buf.String(), "toxotis-test")
}
