package graphite

import (
	"fmt"
	"sync"
)

// MockGraphite records datapoints in memory.
type MockGraphite struct {
	mu      sync.Mutex
	Lines   []string
	Flushes int
}

func (self *MockGraphite) Add(path string, timestamp int64, value float64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Lines = append(self.Lines, fmt.Sprintf("%s %v %d", path, value, timestamp))
	return nil
}

func (self *MockGraphite) Flush() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Flushes++
	return nil
}

func (self *MockGraphite) Get() ([]string, int) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]string(nil), self.Lines...), self.Flushes
}
