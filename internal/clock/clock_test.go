package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var fired []string
	var seenAt []time.Time
	m.AfterFunc(3*time.Second, func() { fired = append(fired, "c"); seenAt = append(seenAt, m.Now()) })
	m.AfterFunc(time.Second, func() { fired = append(fired, "a"); seenAt = append(seenAt, m.Now()) })
	m.AfterFunc(time.Second, func() { fired = append(fired, "b") })
	stopped := m.AfterFunc(2*time.Second, func() { fired = append(fired, "stopped") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())
	assert.Equal(t, 3, m.Pending())

	m.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(2*time.Second), m.Now())

	m.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, []time.Time{start.Add(time.Second), start.Add(3 * time.Second)}, seenAt)
	assert.Zero(t, m.Pending())
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)

	m.Advance(5 * time.Second)
	assert.Equal(t, 5, count)
	assert.Equal(t, 1, m.Pending())
}

func TestSystemAfterFunc(t *testing.T) {
	done := make(chan struct{})
	System{}.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
