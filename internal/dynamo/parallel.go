package dynamo

import (
	"runtime"
	"sync"
)

// ParallelFor calls fn over contiguous chunks of [0, n) on several
// goroutines. Ranges shorter than minChunk run on the caller.
func ParallelFor(n, minChunk int, fn func(start, end int)) {
	workers := runtime.GOMAXPROCS(0)
	if minChunk < 1 {
		minChunk = 1
	}
	if n <= minChunk || workers <= 1 {
		fn(0, n)
		return
	}
	if n/minChunk < workers {
		workers = n / minChunk
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
