package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Application configuration
	Port              string
	WorkerCount       int
	SchedulerInterval time.Duration
	BatchConcurrency  int
	APIAccessKey      string
	AdaptersDir       string

	// Fetching
	UserAgent         string
	FallbackUserAgent string
	FetchTimeout      time.Duration

	// Content cache; disabled when RedisAddr is empty
	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
