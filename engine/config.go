package engine

import (
	"io"

	"go.uber.org/zap"
)

const pageSize = 65536

// Config holds configuration for runtime creation
type Config struct {
	// Logger overrides the package logger for this runtime.
	Logger *zap.Logger

	// Stdout and Stderr receive engine output such as verbose diagnostics.
	// nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// CacheDir enables wazero's on-disk compilation cache.
	CacheDir string

	// InitialMemoryBytes is the engine memory budget. It is rounded up to
	// whole pages. 0 leaves the limit to MemoryLimitPages.
	InitialMemoryBytes uint64

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// memoryLimitPages returns the effective page limit, 0 for none. When both
// limits are set the smaller wins.
func (c *Config) memoryLimitPages() uint32 {
	if c == nil {
		return 0
	}
	limit := c.MemoryLimitPages
	if c.InitialMemoryBytes > 0 {
		pages := (c.InitialMemoryBytes + pageSize - 1) / pageSize
		if pages > 65536 {
			pages = 65536
		}
		if limit == 0 || uint32(pages) < limit {
			limit = uint32(pages)
		}
	}
	return limit
}

func (c *Config) logger() *zap.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return Logger()
}
