// Package constants defines magic numbers and default values used throughout reactorhttp.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	CleanupInterval       = 30 * time.Second
)

// Reactor limits (original_source/core/network_internal.h)
const (
	MaxEvents        = 16
	MaxTimers        = 1024
	MaxWriteTries    = 1024
	Backlog          = 10
	WaitTimeoutMs    = 10
	MaxFDsDefault    = 128
	MaxFDsHighFanout = 4096
)

// SSL/TLS timeouts (seconds), overridable via pkg/config
const (
	DefaultSSLEstablishTimeout = 1 * time.Second
	DefaultSSLAcceptTimeout    = 1 * time.Second
	DefaultSSLShutdownTimeout  = 1 * time.Second
	DefaultFlushAndCloseDelay  = 1 * time.Second
	DefaultEstablishTimeout    = 10 * time.Second
)

// HTTP limits (original_source/core/http_internal.h)
const (
	MaxContentLength  = 1024 * 1024 * 1024 * 1024 // 1TB
	MaxHeaderLineLen  = 16384
	MaxHeaderLines    = 128
	MaxHeaderTotal    = 65536
	HTTPHashTableSize = 16384
	FormKeyMaxLen     = 65536
	FormValMaxLen     = 65536
	GzipCoefficient   = 10
)

// Buffer limits
const (
	DefaultBodyMemLimit  = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize     = 100 * 1024 * 1024 // 100MB cap for raw buffer
	ReadBufferInitSize   = 128 * 1024        // 128KiB, original_source READ_BUFFER_SIZE
	ReadBufferLowWaterMk = 10                // grow when remainder < len/10
)

// HTTP pipeline defaults
const (
	DefaultResponseTimeout           = 30 * time.Second
	DefaultCheckMessagesQueueInterval = 1 * time.Second
)
