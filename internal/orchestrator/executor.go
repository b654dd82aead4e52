package orchestrator

import (
	"context"
	"errors"
	"time"

	"formcoach/internal/logging"
	"formcoach/internal/stages"
)

// ErrUnknownStage marks a planner decision naming a stage with no
// registered implementation. It indicates a programming defect, so the
// loop surfaces it instead of completing silently.
var ErrUnknownStage = errors.New("unknown stage")

// executeStage runs one stage under a timeout, converting panics and
// timeouts into error results. The run loop treats an error result as a
// completed step; stages are never retried.
func executeStage(ctx context.Context, timeout time.Duration, name stages.Name, fn stages.Func, deps *stages.Deps, in stages.Input) stages.Result {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "stage:"+string(name))
	defer timer.Stop()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan stages.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Get(logging.CategoryOrchestrator).Error("PANIC RECOVERED in stage %s: %v", name, r)
				done <- stages.Errorf("stage %s panicked: %v", name, r)
			}
		}()
		done <- fn(ctx, deps, in)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		// The stage goroutine drains into the buffered channel whenever
		// it finishes; its context is already cancelled.
		return stages.Errorf("stage %s timed out: %v", name, ctx.Err())
	}
}
