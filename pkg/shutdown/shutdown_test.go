package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsAllOnce(t *testing.T) {
	m := NewManager()
	var n atomic.Int32
	m.OnShutdown("a", func(ctx context.Context) { n.Add(1) })
	m.OnShutdown("b", func(ctx context.Context) { n.Add(1) })
	m.OnShutdown("nil", nil)

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	assert.Equal(t, int32(2), n.Load())
}

func TestShutdownTimesOut(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	m.Shutdown(ctx)
	assert.Less(t, time.Since(start), time.Second)
}
