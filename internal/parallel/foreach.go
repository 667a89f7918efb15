// Package parallel runs index-based loops on a bounded number of goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Workers returns n if positive, otherwise the number of CPUs.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ForEach calls body for every i in [0, length) with at most limit calls
// in flight, and returns once all calls have finished.
func ForEach(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}

	wg.Wait()
}

// Chunks splits [0, length) into at most n contiguous half-open ranges of
// near-equal size. Empty ranges are never returned.
func Chunks(length, n int) [][2]int {
	if length <= 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > length {
		n = length
	}
	out := make([][2]int, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := length / n
		if i < length%n {
			size++
		}
		out = append(out, [2]int{start, start + size})
		start += size
	}
	return out
}
