package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twingate/internal/domain"
)

func TestBlockingPoolRunsTask(t *testing.T) {
	p := NewBlockingPool(1)

	out, err := p.Do(context.Background(), func() (string, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestBlockingPoolTimesOutWhileQueued(t *testing.T) {
	p := NewBlockingPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = p.Do(context.Background(), func() (string, error) {
			close(started)
			<-release
			return "", nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, func() (string, error) { return "", nil })
	require.Error(t, err)
	assert.Equal(t, domain.CodeTimeout, domain.CodeFrom(err))

	close(release)
	wg.Wait()
}

func TestBlockingPoolDoesNotCancelInFlightTask(t *testing.T) {
	p := NewBlockingPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	out, err := p.Do(ctx, func() (string, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return "finished", nil
	})
	require.NoError(t, err, "cancellation after dispatch must not abort the call")
	assert.Equal(t, "finished", out)
}
