package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_DefaultsToEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	clock.Advance(90 * time.Minute)
	assert.Equal(t, Epoch.Add(90*time.Minute), clock.Now())

	// Negative durations do not move the clock
	clock.Advance(-time.Hour)
	assert.Equal(t, Epoch.Add(90*time.Minute), clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(time.Time{})
	clock.Advance(time.Hour)

	clock.Set(Epoch)
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, loc)

	clock := NewManualClock(start)
	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.True(t, start.Equal(clock.Now()))
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(numGoroutines*time.Second), clock.Now())
}
