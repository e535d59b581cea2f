package syncgroup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroupRunsAll(t *testing.T) {
	sg := NewSyncGroup()
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		sg.Add(func() { n.Add(1) })
	}
	sg.Add(nil)
	sg.RunAndWait()
	assert.Equal(t, int32(5), n.Load())

	// 列表已清空，再次 Run 不会重复执行
	sg.RunAndWait()
	assert.Equal(t, int32(5), n.Load())
}

func TestBatchesBoundsInFlight(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	seen := make([]bool, 7)

	Batches(7, 2, func(i int) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[i] = true
		mu.Unlock()
		inFlight.Add(-1)
	})

	assert.LessOrEqual(t, peak.Load(), int32(2))
	for i, ok := range seen {
		assert.True(t, ok, "task %d", i)
	}
}

func TestBatchesZeroTasks(t *testing.T) {
	called := false
	Batches(0, 2, func(int) { called = true })
	assert.False(t, called)
}
