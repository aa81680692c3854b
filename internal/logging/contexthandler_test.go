package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextHandler_InjectsAttrs(t *testing.T) {
	var buf bytes.Buffer
	version := "v1"
	h := NewContextHandler(slog.NewTextHandler(&buf, nil), func() []slog.Attr {
		return []slog.Attr{slog.String("session", "abc"), slog.String("map_version", version)}
	})
	logger := slog.New(h)

	logger.Info("first")
	version = "v2"
	logger.With("component", "syncer").Info("second")

	out := buf.String()
	assert.Contains(t, out, "session=abc")
	assert.Contains(t, out, "map_version=v1")
	assert.Contains(t, out, "map_version=v2")
	assert.Contains(t, out, "component=syncer")
}

func TestContextHandler_NilProvider(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewContextHandler(slog.NewTextHandler(&buf, nil), nil))

	logger.WithGroup("g").Info("plain", "k", "v")
	assert.Contains(t, buf.String(), "g.k=v")
}
