package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New("test", "v0")
	l.SetOutput(&buf)
	l.SetLevel(LevelWarn)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "WARN")
}

func TestWithFieldsFormatsSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("test", "v0")
	l.SetOutput(&buf)

	l.WithFields(map[string]string{"op": "read", "conn": "c1"}).Info("done")

	assert.Contains(t, buf.String(), "done conn=c1 op=read")
}

func TestSubscribeReceivesEntries(t *testing.T) {
	l := New("test", "v0")
	l.DisableConsoleOutput()

	ch := l.Subscribe()
	l.Error("boom: %s", "x")

	entry := <-ch
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "boom: x", entry.Message)

	l.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeDropsWhenFull(t *testing.T) {
	l := New("test", "v0")
	l.DisableConsoleOutput()
	ch := l.Subscribe()

	for i := 0; i < 150; i++ {
		l.Info("msg %d", i)
	}
	assert.Equal(t, 100, len(ch))
}
