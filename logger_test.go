package fetchq

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Debugf("hidden %d", 1)
	l.Infof("picked %d docs", 2)
	l.Warnf("retry %s", "a")
	l.Errorf("failed %s", "b")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `level=INFO msg="picked 2 docs"`)
	require.Contains(t, out, `level=WARN msg="retry a"`)
	require.Contains(t, out, `level=ERROR msg="failed b"`)
}

func TestSlogLogger_DefaultsToSlogDefault(t *testing.T) {
	require.NotNil(t, NewSlogLogger(nil).l)
}
