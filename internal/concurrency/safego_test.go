package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RunsFn(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false

	SafeGo(nil, "ok", func() {
		ran = true
		wg.Done()
	}, nil)

	waitOrTimeout(t, &wg)
	assert.True(t, ran)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var gotName string
	var gotPanic any

	SafeGo(nil, "boom", func() {
		panic("kaboom")
	}, func(name string, r any, stack string) {
		gotName = name
		gotPanic = r
		require.NotEmpty(t, stack)
		wg.Done()
	})

	waitOrTimeout(t, &wg)
	assert.Equal(t, "boom", gotName)
	assert.Equal(t, "kaboom", gotPanic)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for goroutine")
	}
}
