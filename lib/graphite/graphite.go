// Package graphite writes metrics using the carbon plaintext protocol.
package graphite

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const BatchSize = 4096

// MaxBuffered caps what is kept across failed flushes. Beyond it the oldest
// datapoints are dropped.
const MaxBuffered = 16 * BatchSize

// DefaultPort is used when the address has no port.
const DefaultPort = "2003"

type IGraphite interface {
	Add(path string, timestamp int64, value float64) error
	Flush() error
}

// Graphite buffers datapoints and sends them in one connection per flush.
type Graphite struct {
	address string

	mu      sync.Mutex
	buffer  strings.Builder
	dropped int
}

var dailer = func(network, address string) (io.ReadWriteCloser, error) {
	return net.Dial(network, address)
}

func New(address string) *Graphite {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}
	return &Graphite{address: address}
}

func (graphite *Graphite) Address() string {
	return graphite.address
}

func (graphite *Graphite) Add(path string, timestamp int64, value float64) error {
	graphite.mu.Lock()
	fmt.Fprintf(&graphite.buffer, "%s %v %d\n", path, value, timestamp)
	full := graphite.buffer.Len() > BatchSize
	graphite.mu.Unlock()
	if full {
		return graphite.Flush()
	}
	return nil
}

// Dropped returns the number of datapoints discarded to respect MaxBuffered.
func (graphite *Graphite) Dropped() int {
	graphite.mu.Lock()
	defer graphite.mu.Unlock()
	return graphite.dropped
}

// Flush sends buffered datapoints. On failure they stay buffered for the
// next attempt, up to MaxBuffered.
func (graphite *Graphite) Flush() error {
	graphite.mu.Lock()
	defer graphite.mu.Unlock()
	if graphite.buffer.Len() == 0 {
		return nil
	}
	conn, err := dailer("tcp", graphite.address)
	if err != nil {
		graphite.trim()
		return errors.Wrapf(err, "graphite %s", graphite.address)
	}
	defer conn.Close()
	if _, err := io.WriteString(conn, graphite.buffer.String()); err != nil {
		graphite.trim()
		return errors.Wrapf(err, "graphite %s", graphite.address)
	}
	graphite.buffer.Reset()
	return nil
}

// trim drops whole lines from the front until the buffer fits MaxBuffered.
func (graphite *Graphite) trim() {
	if graphite.buffer.Len() <= MaxBuffered {
		return
	}
	data := graphite.buffer.String()
	for len(data) > MaxBuffered {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			data = ""
			break
		}
		data = data[i+1:]
		graphite.dropped++
	}
	graphite.buffer.Reset()
	graphite.buffer.WriteString(data)
}
