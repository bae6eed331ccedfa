package execution

import (
	"go.uber.org/zap"

	"github.com/0x5487/execution-engine/oms"
	"github.com/0x5487/execution-engine/queue"
	"github.com/0x5487/execution-engine/router"
	"github.com/0x5487/execution-engine/venue"
)

var logger = zap.NewNop()

// SetLogger allows setting a custom logger
func SetLogger(l *zap.Logger) {
	logger = l
}

// SetLoggers installs l in every package of the engine, each under its own
// name.
func SetLoggers(l *zap.Logger) {
	SetLogger(l.Named("engine"))
	oms.SetLogger(l.Named("oms"))
	router.SetLogger(l.Named("sor"))
	venue.SetLogger(l.Named("venue"))
	queue.SetLogger(l.Named("queue"))
}
