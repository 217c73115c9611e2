package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// MaxConnections bounds concurrently accepted connections. Zero means unbounded.
	MaxConnections int `env:"HTTP_MAX_CONNECTIONS" envDefault:"1024"`

	// MaxLongPoll caps the ?wait= parameter of the job status endpoint.
	MaxLongPoll time.Duration `env:"HTTP_MAX_LONG_POLL" envDefault:"25s"`

	// WriteTimeout must exceed MaxLongPoll so long-polls can finish.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.MaxConnections < 0 {
		h.MaxConnections = 0
	}
	if h.MaxLongPoll < 0 {
		h.MaxLongPoll = 0
	}
	if h.MaxLongPoll > 25*time.Second {
		h.MaxLongPoll = 25 * time.Second
	}
	if h.WriteTimeout < h.MaxLongPoll+5*time.Second {
		h.WriteTimeout = h.MaxLongPoll + 5*time.Second
	}
}
