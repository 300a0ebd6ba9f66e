package config

import "time"

// ClientConfig holds the settings the SDK client needs to download and keep
// a project datafile fresh. DatafileURL is a template receiving the SDK key.
type ClientConfig struct {
	SDKKey          string        `env:"FLAGKIT_SDK_KEY,required"`
	DatafileURL     string        `env:"FLAGKIT_DATAFILE_URL" envDefault:"https://cdn.optimizely.com/datafiles/%s.json"`
	PollingInterval time.Duration `env:"FLAGKIT_POLLING_INTERVAL" envDefault:"5m"`
	RequestTimeout  time.Duration `env:"FLAGKIT_REQUEST_TIMEOUT" envDefault:"10s"`
}

// EventsConfig tunes the event dispatcher queue. QueueFile selects the
// file-backed store and RedisURL the redis-backed one; when both are empty
// events are queued in memory.
type EventsConfig struct {
	BatchSize     int           `env:"FLAGKIT_EVENT_BATCH_SIZE" envDefault:"10"`
	FlushInterval time.Duration `env:"FLAGKIT_EVENT_FLUSH_INTERVAL" envDefault:"60s"`
	MaxQueueSize  int           `env:"FLAGKIT_EVENT_MAX_QUEUE_SIZE" envDefault:"10000"`
	QueueFile     string        `env:"FLAGKIT_EVENT_QUEUE_FILE"`
	RedisURL      string        `env:"FLAGKIT_EVENT_REDIS_URL"`
}

// CmabConfig tunes the contextual bandit prediction client and its
// per-user decision cache.
type CmabConfig struct {
	Endpoint     string        `env:"FLAGKIT_CMAB_ENDPOINT" envDefault:"https://prediction.cmab.optimizely.com/predict"`
	CacheSize    int           `env:"FLAGKIT_CMAB_CACHE_SIZE" envDefault:"1000"`
	CacheTimeout time.Duration `env:"FLAGKIT_CMAB_CACHE_TIMEOUT" envDefault:"30m"`
}
