package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetProvider_DefaultsToNoOp(t *testing.T) {
	SetProvider(nil)
	assert.IsType(t, &NoOpProvider{}, GetProvider())
}

func TestSetProvider_ConcurrentWithReaders(t *testing.T) {
	t.Cleanup(func() { SetProvider(nil) })
	prom := NewPrometheusProvider(nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					GetProvider().RecordPoll("primary", "continue")
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			SetProvider(prom)
		} else {
			SetProvider(nil)
		}
	}
	close(stop)
	wg.Wait()

	SetProvider(prom)
	assert.Same(t, prom, GetProvider())
}
