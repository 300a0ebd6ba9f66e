package redis

import "time"

// Config describes how the SDK connects to Redis. The zero value is not
// usable; fill the fields directly or load them from the environment.
type Config struct {
	// ConnectionURL in the form "redis://:password@localhost:6379/0".
	ConnectionURL string `env:"FLAGKIT_REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
	// RetryAttempts is how many pings Connect tries before giving up.
	RetryAttempts int `env:"FLAGKIT_REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	// RetryInterval is the pause between failed ping attempts.
	RetryInterval time.Duration `env:"FLAGKIT_REDIS_RETRY_INTERVAL" envDefault:"5s"`
	// ConnectTimeout bounds the whole connect-with-retries sequence.
	ConnectTimeout time.Duration `env:"FLAGKIT_REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}
