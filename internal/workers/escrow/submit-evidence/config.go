// internal/workers/escrow/submit-evidence/config.go
package submitevidence

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
