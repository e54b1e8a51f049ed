package generic_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terravista/lot-sales/generic"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	// GIVEN: many goroutines contending for one key
	km := generic.NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup

	// WHEN: each holds the lock briefly
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "contract:C-1")
			require.NoError(t, err)
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	// THEN: never more than one holder, and no entries leak
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, km.Held())
}

func TestKeyedMutex_DifferentKeysDoNotBlock(t *testing.T) {
	km := generic.NewKeyedMutex()

	unlockA, err := km.Lock(context.Background(), "A")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := km.Lock(ctx, "B")
	require.NoError(t, err)
	unlockB()
}

func TestKeyedMutex_TimesOutWhenHeld(t *testing.T) {
	// GIVEN: a held key
	km := generic.NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "A")
	require.NoError(t, err)

	// WHEN: a second caller waits with a short deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "A")

	// THEN: it gives up with a retryable error
	assert.ErrorIs(t, err, generic.ErrLockTimeout)
	assert.True(t, generic.IsRetryable(err))

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, km.Held())
}
