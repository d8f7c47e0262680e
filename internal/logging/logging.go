// Package logging constructs the process-wide hclog.Logger and exposes
// the Named()/With() narrowing convention every other package uses,
// mirroring the teacher's internal/backend/remote-state/oracle_oci/log.go
// loggerFunc pattern.
package logging

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

var rootLevel = "INFO"

// SetLevel overrides the level the next call to Logger() constructs the
// root logger with. It must be called before the first Logger() call;
// cmd/compute-service calls it during startup, right after config.Load
// has read SPLITUP_COMPUTE_SERVICE_LOG_LEVEL.
func SetLevel(level string) {
	rootLevel = level
}

var rootLogger = sync.OnceValue(func() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:            "compute-service",
		Level:           hclog.LevelFromString(rootLevel),
		Output:          os.Stderr,
		IncludeLocation: true,
	})
})

// Logger returns the process-wide root logger, constructing it exactly
// once.
func Logger() hclog.Logger {
	return rootLogger()
}

// Named is a convenience for Logger().Named(name). Component
// constructors in this module instead call Named on the logger they are
// handed.
func Named(name string) hclog.Logger {
	return Logger().Named(name)
}
