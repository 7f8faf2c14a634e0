package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Platform     PlatformConfig
	ACME         ACMEConfig
	Scheduler    SchedulerConfig
	Notify       NotifyConfig
	JWTSecret    string
	ServiceToken string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MigrationsPath string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PlatformConfig struct {
	BaseDomain   string
	EdgeHost     string
	ResolverTTL  time.Duration
	DNSResolver  string
	DirectoryURL string
	DefaultPlan  string
}

type ACMEConfig struct {
	DirectoryURL string
	Email        string
	HTTPPort     string
	RatePerMin   int
}

type SchedulerConfig struct {
	WorkerCount       int
	RenewalSweepEvery time.Duration
	RenewalHorizon    time.Duration
	HealthCheckEvery  time.Duration
	QueuePollInterval time.Duration
	CachePurgeEvery   time.Duration
}

type NotifyConfig struct {
	WebhookURL string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("GATEWAY")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.migrationspath", "file://migrations")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("platform.basedomain", "craftora.site")
	viper.SetDefault("platform.edgehost", "edge.craftora.net")
	viper.SetDefault("platform.resolverttl", "60s")
	viper.SetDefault("platform.dnsresolver", "8.8.8.8:53")
	viper.SetDefault("platform.defaultplan", "premium")
	viper.SetDefault("acme.directoryurl", "https://acme-v02.api.letsencrypt.org/directory")
	viper.SetDefault("acme.httpport", "80")
	viper.SetDefault("acme.ratepermin", 5)
	viper.SetDefault("scheduler.workercount", 10)
	viper.SetDefault("scheduler.renewalsweepevery", "6h")
	viper.SetDefault("scheduler.renewalhorizon", "720h")
	viper.SetDefault("scheduler.healthcheckevery", "5m")
	viper.SetDefault("scheduler.queuepollinterval", "2s")
	viper.SetDefault("scheduler.cachepurgeevery", "10m")

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if token := os.Getenv("SERVICE_TOKEN"); token != "" {
		cfg.ServiceToken = token
	}
	if email := os.Getenv("ACME_EMAIL"); email != "" {
		cfg.ACME.Email = email
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.Notify.WebhookURL = url
	}

	return &cfg, nil
}
