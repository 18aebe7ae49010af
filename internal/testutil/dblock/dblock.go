// Package dblock serializes tests that share the DATABASE_URL database
// across packages. go test runs packages in parallel processes, so the lock
// is a TCP port rather than a mutex.
package dblock

import (
	"net"
	"os"
	"testing"
	"time"
)

const defaultAddr = "127.0.0.1:45433"

// Acquire blocks until this process holds the lock, and releases it when tb
// finishes. DBLOCK_ADDR overrides the port.
func Acquire(tb testing.TB) {
	tb.Helper()
	addr := os.Getenv("DBLOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			tb.Cleanup(func() { _ = ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			tb.Fatalf("dblock: waiting for %s: %v", addr, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
