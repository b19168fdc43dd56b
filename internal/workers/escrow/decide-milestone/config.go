// internal/workers/escrow/decide-milestone/config.go
package decidemilestone

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
