// Package cdn requests invalidation of published paths after a run.
package cdn

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	appLog "calsync/internal/log"
)

// AllPaths invalidates everything.
var AllPaths = []string{"/*"}

// Invalidator purges cached copies of published documents.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, paths []string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, paths []string) error { return f(ctx, paths) }

// Log records invalidation requests without a CDN behind them. Each request
// gets a caller reference so repeated requests are distinguishable.
type Log struct{}

func (Log) Invalidate(_ context.Context, paths []string) error {
	appLog.Info("cache invalidation requested", "paths", paths, "caller_reference", uuid.NewString())
	return nil
}

// Multi fans an invalidation out to every member. All members are called;
// their errors are combined.
type Multi []Invalidator

func (m Multi) Invalidate(ctx context.Context, paths []string) error {
	var errs error
	for _, inv := range m {
		errs = multierr.Append(errs, inv.Invalidate(ctx, paths))
	}
	return errs
}
