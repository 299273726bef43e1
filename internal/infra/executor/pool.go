package executor

import (
	"context"
	"runtime"

	"twingate/internal/domain"
)

type poolResult struct {
	out string
	err error
}

// BlockingPool runs synchronous FFI and WASM calls on a fixed set of
// dedicated worker goroutines so a slow plugin cannot stall the
// goroutines serving network traffic. Submission honors the caller's
// context while queued; once a task is dispatched it runs to
// completion, so in-flight backend calls are never cancelled.
type BlockingPool struct {
	tasks chan func()
}

func NewBlockingPool(workers int) *BlockingPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &BlockingPool{tasks: make(chan func())}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *BlockingPool) worker() {
	// Native calls keep their worker thread; dlopen-style TLS state in
	// guest libraries must not migrate between OS threads.
	runtime.LockOSThread()
	for task := range p.tasks {
		task()
	}
}

// Do submits fn and waits for its result.
func (p *BlockingPool) Do(ctx context.Context, fn func() (string, error)) (string, error) {
	results := make(chan poolResult, 1)
	task := func() {
		out, err := fn()
		results <- poolResult{out: out, err: err}
	}

	select {
	case p.tasks <- task:
	case <-ctx.Done():
		return "", domain.E(domain.CodeTimeout, "executor.pool", "all execution slots busy", ctx.Err())
	}

	res := <-results
	return res.out, res.err
}
