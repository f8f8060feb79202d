package instance

import (
	"os"

	"github.com/vodstream/vod-backend/pkg/env"
)

// GetID returns the worker instance identifier, falling back to the hostname.
func GetID() string {
	fallback := "worker-0"
	if host, err := os.Hostname(); err == nil && host != "" {
		fallback = host
	}
	return env.Get("VOD_WORKER_ID", fallback)
}
