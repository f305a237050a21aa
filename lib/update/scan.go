// SPDX-License-Identifier: MIT
// Copyright (c) 2020 Brian Starkey <stark3y@gmail.com>
package update

import (
	"context"
	"runtime"
	"sync"

	"github.com/usedbytes/log"
)

type Result struct {
	Record Record
	Err    error
}

// Scan checks every record using up to workers goroutines, and returns the
// results ordered by record index. Bad records are reported in their
// Result; in strict mode the scan stops early and the lowest-indexed bad
// record's error is returned instead. progress, if not nil, is called
// (possibly concurrently) as each record is finished.
func (img *Image) Scan(ctx context.Context, workers int, progress func()) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	n := img.NumRecords()
	results := make([]Result, n)

	// Each worker only writes results[i] for the indices it receives
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				r, err := img.Record(i)
				results[i] = Result{Record: r, Err: err}

				if err != nil && img.strict {
					cancel()
				}
				if progress != nil {
					progress()
				}
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case jobs <- i:
		case <-scanCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bad := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if img.strict {
			return nil, res.Err
		}
		bad++
	}
	log.Verbosef("Scanned %d records, %d bad\n", n, bad)

	return results, nil
}
