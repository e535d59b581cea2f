package sigchan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitCoalesces(t *testing.T) {
	c := New(0)
	c.Emit()
	c.Emit()
	c.Emit()

	assert.True(t, c.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.Wait(ctx))
}
