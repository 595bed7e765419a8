package main

import (
	"fmt"
	"io"
	"sync"
)

// linePrinter serializes writes from realtime callbacks and the input loop.
type linePrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *linePrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}
