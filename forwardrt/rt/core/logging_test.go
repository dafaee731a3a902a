package core

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrNopNeverReturnsNil(t *testing.T) {
	l := OrNop(nil)
	require.NotNil(t, l)
	assert.False(t, l.DebugEnabled())
	assert.NotPanics(t, func() { l.Warnf("dropped %d", 1) })

	dl := NewDefaultLogger("forward", false)
	assert.Same(t, dl, OrNop(dl))
}

func TestWarnOnceDedupesByKey(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDefaultLogger("forward", false)
	dl.err = log.New(&buf, "", 0)
	dl.out = log.New(&buf, "", 0)

	for i := 0; i < 3; i++ {
		WarnOnce(dl, "atlas-full", "atlas full")
	}
	WarnOnce(dl, "other", "other warning")

	assert.Equal(t, 1, strings.Count(buf.String(), "atlas full"))
	assert.Equal(t, 1, strings.Count(buf.String(), "other warning"))
}
