package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Set(Output(&buf)))
	require.NoError(t, Set(JSON()))
	t.Cleanup(func() {
		_ = Set(Output(os.Stderr))
		_ = Set(func(r *logrus.Logger) error {
			r.SetFormatter(&logrus.TextFormatter{})
			return nil
		})
	})

	New("bone-sensor").WithField("ddns", "a.com").Info("checked in")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "bone-sensor", line["component"])
	assert.Equal(t, "a.com", line["ddns"])
	assert.Equal(t, "checked in", line["msg"])
}

func TestLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { _ = Set(Level("info")) })

	require.NoError(t, Set(Level("debug")))
	assert.Equal(t, logrus.DebugLevel, root.logger.GetLevel())

	require.NoError(t, Set(Level("chatty")))
	assert.Equal(t, logrus.InfoLevel, root.logger.GetLevel())
}
