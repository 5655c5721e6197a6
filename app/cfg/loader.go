package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBHost     string `long:"db-host" env:"DB_HOST" default:"localhost" description:"Database host"`
	DBPort     string `long:"db-port" env:"DB_PORT" default:"5432" description:"Database port"`
	DBUser     string `long:"db-user" env:"DB_USER" default:"rss_user" description:"Database user"`
	DBPassword string `long:"db-password" env:"DB_PASSWORD" default:"rss_password" description:"Database password (required)" required:"true"`
	DBName     string `long:"db-name" env:"DB_NAME" default:"rss_intake" description:"Database name"`
	DBSSLMode  string `long:"db-sslmode" env:"DB_SSLMODE" default:"disable" description:"Database SSL mode" choice:"disable" choice:"require" choice:"verify-ca" choice:"verify-full"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for feed polling"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	BatchConcurrency  int    `long:"batch-concurrency" env:"BATCH_CONCURRENCY" default:"5" description:"Concurrent feeds in an on-demand batch update"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	AdaptersDir       string `long:"adapters-dir" env:"ADAPTERS_DIR" default:"./adapters" description:"Directory containing site adapter definitions"`

	// Fetching
	UserAgent         string `long:"user-agent" env:"USER_AGENT" default:"RSS Intake/1.0" description:"User agent string for HTTP requests"`
	FallbackUserAgent string `long:"fallback-user-agent" env:"FALLBACK_USER_AGENT" default:"Mozilla/5.0 (compatible; RSS Reader)" description:"User agent retried once after an auth rejection"`
	FetchTimeout      int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"15" description:"Feed fetch timeout in seconds"`

	// Content cache
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the fetched content cache (optional)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	CacheTTL      int    `long:"cache-ttl" env:"CACHE_TTL" default:"300" description:"Lifetime of validated content in the cache, in seconds"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses command line flags and environment. It returns (nil, nil)
// when --help was requested.
func Load() (*Cfg, error) {
	return parse(os.Args[1:], flags.Default)
}

func parse(args []string, options flags.Options) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, options)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", raw.WorkerCount)
	}
	if raw.SchedulerInterval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %d", raw.SchedulerInterval)
	}
	if raw.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive, got %d", raw.FetchTimeout)
	}

	cfg := &Cfg{
		DBHost:            raw.DBHost,
		DBPort:            raw.DBPort,
		DBUser:            raw.DBUser,
		DBPassword:        raw.DBPassword,
		DBName:            raw.DBName,
		DBSSLMode:         raw.DBSSLMode,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: time.Duration(raw.SchedulerInterval) * time.Second,
		BatchConcurrency:  raw.BatchConcurrency,
		APIAccessKey:      raw.APIAccessKey,
		AdaptersDir:       raw.AdaptersDir,
		UserAgent:         raw.UserAgent,
		FallbackUserAgent: raw.FallbackUserAgent,
		FetchTimeout:      time.Duration(raw.FetchTimeout) * time.Second,
		RedisAddr:         raw.RedisAddr,
		RedisPassword:     raw.RedisPassword,
		CacheTTL:          time.Duration(raw.CacheTTL) * time.Second,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	return nil
}
