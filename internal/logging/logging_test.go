package logging

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsBadLevel(t *testing.T) {
	err := Init("loud", "")
	assert.Error(t, err)
}

func TestInitSetsLevel(t *testing.T) {
	prev := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(prev) })

	require.NoError(t, Init("debug", "console"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
}

func TestFormatterAddsSession(t *testing.T) {
	f := &Formatter{TextFormatter: log.TextFormatter{DisableTimestamp: true, DisableColors: true}}
	entry := log.NewEntry(log.StandardLogger()).WithContext(WithSession(context.Background(), "abc123"))
	entry.Message = "hello"
	entry.Level = log.InfoLevel

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "session=abc123")
}
