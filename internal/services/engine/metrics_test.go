package engine

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type metricsRecorder struct {
	body string
}

func newMetricsRecorder(t *testing.T, m *Metrics) metricsRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/system/metrics", nil)
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return metricsRecorder{body: string(raw)}
}
