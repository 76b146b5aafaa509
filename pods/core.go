package pods

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/openfluke/prefixscan/detector"
	"github.com/openfluke/prefixscan/scan"
)

// Pod is a unit of work built on the scan engine.
type Pod interface {
	Name() string
	Run(ctx *ExecContext, in any) (out any, err error)
}

// ExecContext carries execution choices and capabilities.
type ExecContext struct {
	Ctx       context.Context
	UseDevice bool               // pods fall back to the host reference when false
	Device    scan.Device        // nil unless a backend was opened
	Cache     scan.PipelineCache // shared across pod runs; nil compiles per run
	Report    *detector.Report   // detector output (limits, features, recs)
	Logger    logr.Logger
	Now       time.Time
}

func NewContext(rep *detector.Report) *ExecContext {
	return &ExecContext{
		Ctx:    context.Background(),
		Report: rep,
		Logger: logr.Discard(),
		Now:    time.Now(),
	}
}

// WithDevice routes pods through dev and keeps one kernel cache for every run.
func (ec *ExecContext) WithDevice(dev scan.Device) error {
	ec.Device = dev
	ec.UseDevice = dev != nil
	if dev == nil || ec.Cache != nil {
		return nil
	}
	cache, err := scan.NewPipelineCache(scan.DefaultPipelineCacheSize)
	if err != nil {
		return errors.Wrap(err, "pod kernel cache")
	}
	ec.Cache = cache
	return nil
}

// Close releases the shared kernel cache.
func (ec *ExecContext) Close() {
	if purger, ok := ec.Cache.(interface{ Purge() }); ok {
		purger.Purge()
	}
}
