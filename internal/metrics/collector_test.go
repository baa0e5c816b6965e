package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTiming(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpSubmit, 10*time.Millisecond, nil)
	c.RecordTiming(OpSubmit, 30*time.Millisecond, errors.New("rejected"))

	snap := c.Snapshot()
	require.NotNil(t, snap.Submit)
	assert.Equal(t, int64(2), snap.Submit.Count)
	assert.Equal(t, int64(1), snap.Submit.Errors)
	assert.Equal(t, int64(10), snap.Submit.MinTimeMs)
	assert.Equal(t, int64(30), snap.Submit.MaxTimeMs)
	assert.InDelta(t, 20.0, snap.Submit.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Persist, "no data means no snapshot")
}

func TestTimeReturnsError(t *testing.T) {
	c := NewCollector()
	want := errors.New("write failed")
	err := c.Time(OpPersist, func() error { return want })
	assert.Equal(t, want, err)
	assert.Equal(t, int64(1), c.Snapshot().Persist.Errors)
}

func TestCountersConcurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Inc(CountAccepted)
			c.RecordTiming(OpStatusFetch, time.Millisecond, nil)
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Accepted)
	assert.Equal(t, int64(50), snap.StatusFetch.Count)
	assert.Zero(t, snap.Failed)
}
