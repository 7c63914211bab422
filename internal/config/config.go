package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Registry  RegistryConfig
	Cache     CacheConfig
	Extractor ExtractorConfig
	Downloads DownloadsConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	Workers    int
	QueueDepth int
	JobTimeout time.Duration
}

type RegistryConfig struct {
	Retention    time.Duration
	SuccessReuse time.Duration
	FailedGrace  time.Duration
}

type CacheConfig struct {
	TTL      time.Duration
	MaxBytes int64
}

type ExtractorConfig struct {
	Binary           string
	ProgressInterval time.Duration
	ProbeTimeout     time.Duration
}

type DownloadsConfig struct {
	Dir string
}

type RateLimitConfig struct {
	DownloadPerHour int
	InfoPerMin      int
}

type CORSConfig struct {
	AllowOrigins string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("scheduler.workers", 4)
	viper.SetDefault("scheduler.queue_depth", 32)
	viper.SetDefault("scheduler.job_timeout", "10m")
	viper.SetDefault("registry.retention", "1h")
	viper.SetDefault("registry.success_reuse", "15m")
	viper.SetDefault("registry.failed_grace", "5m")
	viper.SetDefault("cache.ttl", "15m")
	viper.SetDefault("cache.max_bytes", int64(2<<30)) // 2GB
	viper.SetDefault("extractor.binary", "yt-dlp")
	viper.SetDefault("extractor.progress_interval", "200ms")
	viper.SetDefault("extractor.probe_timeout", "1m")
	viper.SetDefault("downloads.dir", "./downloads")
	viper.SetDefault("ratelimit.download_per_hour", 30)
	viper.SetDefault("ratelimit.info_per_min", 20)
	viper.SetDefault("cors.allow_origins", "*")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Scheduler: SchedulerConfig{
			Workers:    viper.GetInt("scheduler.workers"),
			QueueDepth: viper.GetInt("scheduler.queue_depth"),
			JobTimeout: viper.GetDuration("scheduler.job_timeout"),
		},
		Registry: RegistryConfig{
			Retention:    viper.GetDuration("registry.retention"),
			SuccessReuse: viper.GetDuration("registry.success_reuse"),
			FailedGrace:  viper.GetDuration("registry.failed_grace"),
		},
		Cache: CacheConfig{
			TTL:      viper.GetDuration("cache.ttl"),
			MaxBytes: viper.GetInt64("cache.max_bytes"),
		},
		Extractor: ExtractorConfig{
			Binary:           viper.GetString("extractor.binary"),
			ProgressInterval: viper.GetDuration("extractor.progress_interval"),
			ProbeTimeout:     viper.GetDuration("extractor.probe_timeout"),
		},
		Downloads: DownloadsConfig{
			Dir: viper.GetString("downloads.dir"),
		},
		RateLimit: RateLimitConfig{
			DownloadPerHour: viper.GetInt("ratelimit.download_per_hour"),
			InfoPerMin:      viper.GetInt("ratelimit.info_per_min"),
		},
		CORS: CORSConfig{
			AllowOrigins: viper.GetString("cors.allow_origins"),
		},
	}

	return cfg, nil
}
