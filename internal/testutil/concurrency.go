// Package testutil collects small helpers shared by this module's
// concurrency stress tests, so each package's _test.go files don't
// reinvent goroutine fan-out boilerplate.
package testutil

import "golang.org/x/sync/errgroup"

// Parallel runs fn once per worker in [0, workers), waiting for every
// invocation to finish and returning the first error encountered (if any),
// via errgroup.Group.
func Parallel(workers int, fn func(worker int) error) error {
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		eg.Go(func() error { return fn(w) })
	}
	return eg.Wait()
}
