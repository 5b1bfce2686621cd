// Package handlers holds the example coprocess bodies shared by
// cmd/api-server and the bridge's remote-spawn registry: echo,
// sleep, compute, and fail, each run as a spawned coprocess body using
// ops.Host in place of a context.Context deadline.
package handlers

import (
	"fmt"
	"time"

	"github.com/maumercado/coprocrt/internal/logger"
	"github.com/maumercado/coprocrt/internal/ops"
	"github.com/maumercado/coprocrt/internal/task"
)

// Echo returns payload unchanged, wrapped under "echoed".
func Echo(payload map[string]any) func(self *task.Task) (any, error) {
	return func(self *task.Task) (any, error) {
		logger.Info().Str("coprocess_id", self.ID()).Interface("payload", payload).Msg("echo handler running")
		return map[string]any{"echoed": payload}, nil
	}
}

// Sleep sleeps for payload["duration_ms"] (default 1000ms) using the
// reactor's timer watcher rather than blocking the OS thread.
func Sleep(h ops.Host) func(payload map[string]any) func(self *task.Task) (any, error) {
	return func(payload map[string]any) func(self *task.Task) (any, error) {
		return func(self *task.Task) (any, error) {
			d := 1000 * time.Millisecond
			if ms, ok := payload["duration_ms"].(float64); ok {
				d = time.Duration(ms) * time.Millisecond
			}
			logger.Info().Str("coprocess_id", self.ID()).Dur("duration", d).Msg("sleep handler running")
			if err := ops.Sleep(h, self, d); err != nil {
				return nil, err
			}
			return map[string]any{"slept_for": d.String()}, nil
		}
	}
}

// Compute burns payload["iterations"] (default 1,000,000) CPU cycles,
// yielding periodically so it never starves the scheduler's other
// coprocesses.
func Compute(h ops.Host) func(payload map[string]any) func(self *task.Task) (any, error) {
	return func(payload map[string]any) func(self *task.Task) (any, error) {
		return func(self *task.Task) (any, error) {
			iterations := 1000000
			if n, ok := payload["iterations"].(float64); ok {
				iterations = int(n)
			}
			logger.Info().Str("coprocess_id", self.ID()).Int("iterations", iterations).Msg("compute handler running")

			sum := 0
			for i := 0; i < iterations; i++ {
				sum += i
				if i%65536 == 0 {
					if err := ops.Snooze(h, self); err != nil {
						return nil, err
					}
				}
			}
			return map[string]any{"result": sum}, nil
		}
	}
}

// Fail always returns an error, for exercising cancellation/error
// propagation paths.
func Fail(payload map[string]any) func(self *task.Task) (any, error) {
	return func(self *task.Task) (any, error) {
		logger.Info().Str("coprocess_id", self.ID()).Msg("fail handler running")
		return nil, fmt.Errorf("intentional failure for testing")
	}
}
