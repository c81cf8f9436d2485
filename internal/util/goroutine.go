package util

import (
	"fmt"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/metrics"
)

// SafeGo launches a goroutine with panic recovery.
// A panic is recovered, logged, and counted instead of crashing the process.
func SafeGo(logger *golog.Logger, component string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic recovered in goroutine",
					"component", component,
					"panic", fmt.Sprintf("%v", r))
				metrics.GoroutinePanics.WithLabelValues(component).Inc()
			}
		}()
		fn()
	}()
}
