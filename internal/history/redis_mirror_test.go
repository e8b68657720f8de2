package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"cyberdevstudio/internal/dispatch"
)

func TestRedisMirror_NilReceiverMirrorTaskIsNoop(t *testing.T) {
	var m *RedisMirror
	assert.NotPanics(t, func() {
		m.MirrorTask(context.Background(), dispatch.Task{ID: "t1"})
	})
}

func TestRedisMirror_NilReceiverCloseIsNoop(t *testing.T) {
	var m *RedisMirror
	assert.NoError(t, m.Close())
}

func TestNewRedisMirror_RejectsMalformedURL(t *testing.T) {
	_, err := NewRedisMirror(context.Background(), "not-a-url")
	assert.Error(t, err)
}
