package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(prev)
		SetLevel(INFO)
		SetRedactPII(true)
	})
	return &buf
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactName(t *testing.T) {
	assert.Equal(t, "A*** L***", RedactName("Ada Lovelace"))
	assert.Equal(t, "", RedactName("   "))
	assert.Equal(t, "É***", RedactName("Émile"))
}

func TestLogRedactsFields(t *testing.T) {
	buf := captureLog(t)

	Info("signup recorded", "email", "jane@example.com", "name", "Jane Doe", "key", "waitlist:email:1 jane@example.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "signup recorded", entry["msg"])
	assert.Equal(t, "ja***@example.com", entry["email"])
	assert.Equal(t, "J*** D***", entry["name"])
	assert.Equal(t, "waitlist:email:1 ja***@example.com", entry["key"])
}

func TestLogLevelFilter(t *testing.T) {
	buf := captureLog(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept", "count", 3)

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "3", entry["count"])
}

func TestRedactionDisabled(t *testing.T) {
	buf := captureLog(t)
	SetRedactPII(false)

	Info("raw", "email", "jane@example.com")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "jane@example.com", entry["email"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}
