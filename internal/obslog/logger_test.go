package obslog

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)
	fn()
	return strings.TrimSpace(buf.String())
}

func TestLogger_InfoEmitsStructuredJSON(t *testing.T) {
	l := New("proxy")
	out := captureLog(t, func() {
		l.Info(Fields{RequestID: "r1", TenantID: "t1"}, "request accepted", map[string]interface{}{"k": "v"})
	})

	idx := strings.Index(out, "{")
	require.GreaterOrEqual(t, idx, 0)
	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(out[idx:]), &entry))
	assert.Equal(t, INFO, entry.Level)
	assert.Equal(t, "proxy", entry.Component)
	assert.Equal(t, "r1", entry.RequestID)
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, "request accepted", entry.Message)
	assert.Equal(t, "v", entry.Fields["k"])
}

func TestLogger_WarnAndErrorUseDistinctLevels(t *testing.T) {
	l := New("proxy")

	warnOut := captureLog(t, func() { l.Warn(Fields{}, "careful", nil) })
	errOut := captureLog(t, func() { l.Error(Fields{}, "broken", nil) })

	assert.Contains(t, warnOut, `"level":"WARN"`)
	assert.Contains(t, errOut, `"level":"ERROR"`)
}

func TestLogger_OmitsEmptyRequestScopedFields(t *testing.T) {
	l := New("proxy")
	out := captureLog(t, func() { l.Debug(Fields{}, "no context", nil) })
	assert.NotContains(t, out, "request_id")
	assert.NotContains(t, out, "tenant_id")
}
