package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEndpoint(t *testing.T) {
	cases := []struct {
		in       string
		host     string
		path     string
		insecure bool
	}{
		{"", "", "", false},
		{"collector:4318", "collector:4318", "/v1/traces", true},
		{"http://collector:4318", "collector:4318", "/v1/traces", true},
		{"https://otel.example.com/otlp", "otel.example.com", "/otlp/v1/traces", false},
		{"https://otel.example.com/v1/traces/", "otel.example.com", "/v1/traces", false},
	}
	for _, tc := range cases {
		host, path, insecure := splitEndpoint(tc.in)
		assert.Equal(t, tc.host, host, tc.in)
		assert.Equal(t, tc.path, path, tc.in)
		assert.Equal(t, tc.insecure, insecure, tc.in)
	}
}

func TestSetupTracingWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), "sales-service", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
