package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "TRENDING_CONFIG"
	dotEnvPathEnv = "ENV_PATH"
)

type Config struct {
	AppPort string `yaml:"appPort"`
	LogMode string `yaml:"logMode"`

	PostgresDSN string `yaml:"postgresDsn"`
	RedisAddr   string `yaml:"redisAddr"`

	// 若配置则整个站点启用 Basic Auth（/health 除外）
	BasicAuthUser string `yaml:"basicAuthUser"`
	BasicAuthPass string `yaml:"basicAuthPass"`

	BuildCron  string `yaml:"buildCron"`
	PruneCron  string `yaml:"pruneCron"`
	ExpireCron string `yaml:"expireCron"`

	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retention RetentionConfig `yaml:"retention"`

	CacheTTL        time.Duration `yaml:"cacheTTL"`
	EnrichmentQueue string        `yaml:"enrichmentQueue"`
	// EnrichmentTimeout 发布后超过该时长仍为 pending 的记录记为 failed
	EnrichmentTimeout time.Duration `yaml:"enrichmentTimeout"`
}

// SnapshotConfig 快照构建相关参数
type SnapshotConfig struct {
	WindowDays       int           `yaml:"windowDays"`
	TopN             int           `yaml:"topN"`
	MinItems         int           `yaml:"minItems"`
	StaleLockTimeout time.Duration `yaml:"staleLockTimeout"`
	AlgoVersion      string        `yaml:"algoVersion"`
}

// IngestConfig 入库并发与重试
type IngestConfig struct {
	UpsertParallelism int `yaml:"upsertParallelism"`
	UpsertMaxAttempts int `yaml:"upsertMaxAttempts"`
}

type RetentionConfig struct {
	HorizonDays int `yaml:"horizonDays"`
}

// Window 返回新鲜度窗口时长
func (s SnapshotConfig) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

func (r RetentionConfig) Horizon() time.Duration {
	return time.Duration(r.HorizonDays) * 24 * time.Hour
}

func Default() *Config {
	return &Config{
		AppPort:     "9000",
		LogMode:     "dev",
		PostgresDSN: "host=localhost user=trending password=trending dbname=trendingvault port=5432 sslmode=disable TimeZone=UTC",
		RedisAddr:   "localhost:6380",
		BuildCron:   "0 */2 * * *",
		PruneCron:   "17 * * * *",
		ExpireCron:  "*/10 * * * *",
		Snapshot: SnapshotConfig{
			WindowDays:       7,
			TopN:             3,
			MinItems:         5,
			StaleLockTimeout: 2 * time.Hour,
			AlgoVersion:      "hot-v1",
		},
		Ingest: IngestConfig{
			UpsertParallelism: 8,
			UpsertMaxAttempts: 4,
		},
		Retention:         RetentionConfig{HorizonDays: 28},
		CacheTTL:          30 * time.Second,
		EnrichmentQueue:   "trending:enrichment:tasks",
		EnrichmentTimeout: 2 * time.Hour,
	}
}

// Load 读取顺序：默认值 -> YAML 文件（TRENDING_CONFIG）-> 环境变量（含 .env）
func Load() *Config {
	loadDotEnv()

	cfg := Default()
	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			// Unmarshal 失败时可能已部分写入，重新从默认值开始
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = Default()
		}
	}
	cfg.applyEnvOverrides()

	log.Printf("config loaded: port=%s build=%q prune=%q window=%dd topN=%d min=%d",
		cfg.AppPort, cfg.BuildCron, cfg.PruneCron, cfg.Snapshot.WindowDays, cfg.Snapshot.TopN, cfg.Snapshot.MinItems)
	return cfg
}

func (c *Config) applyEnvOverrides() {
	c.AppPort = getEnv("APP_PORT", c.AppPort)
	c.LogMode = getEnv("LOG_MODE", c.LogMode)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.BasicAuthUser = getEnv("APP_BASIC_USER", c.BasicAuthUser)
	c.BasicAuthPass = getEnv("APP_BASIC_PASS", c.BasicAuthPass)
	c.BuildCron = getEnv("BUILD_CRON", c.BuildCron)
	c.PruneCron = getEnv("PRUNE_CRON", c.PruneCron)
	c.ExpireCron = getEnv("EXPIRE_CRON", c.ExpireCron)
	c.EnrichmentQueue = getEnv("ENRICHMENT_QUEUE", c.EnrichmentQueue)
	c.Snapshot.AlgoVersion = getEnv("ALGO_VERSION", c.Snapshot.AlgoVersion)

	c.Snapshot.WindowDays = getEnvInt("SNAPSHOT_WINDOW_DAYS", c.Snapshot.WindowDays)
	c.Snapshot.TopN = getEnvInt("SNAPSHOT_TOP_N", c.Snapshot.TopN)
	c.Snapshot.MinItems = getEnvInt("SNAPSHOT_MIN_ITEMS", c.Snapshot.MinItems)
	c.Snapshot.StaleLockTimeout = getEnvDuration("SNAPSHOT_STALE_LOCK_TIMEOUT", c.Snapshot.StaleLockTimeout)
	c.Ingest.UpsertParallelism = getEnvInt("UPSERT_PARALLELISM", c.Ingest.UpsertParallelism)
	c.Ingest.UpsertMaxAttempts = getEnvInt("UPSERT_MAX_ATTEMPTS", c.Ingest.UpsertMaxAttempts)
	c.Retention.HorizonDays = getEnvInt("RETENTION_DAYS", c.Retention.HorizonDays)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.EnrichmentTimeout = getEnvDuration("ENRICHMENT_TIMEOUT", c.EnrichmentTimeout)
}

// Validate 拒绝会破坏快照不变量的配置
func (c *Config) Validate() error {
	switch {
	case c.Snapshot.WindowDays <= 0:
		return fmt.Errorf("config: snapshot.windowDays must be positive, got %d", c.Snapshot.WindowDays)
	case c.Snapshot.TopN < 1:
		return fmt.Errorf("config: snapshot.topN must be at least 1, got %d", c.Snapshot.TopN)
	case c.Snapshot.MinItems < 1:
		return fmt.Errorf("config: snapshot.minItems must be at least 1, got %d", c.Snapshot.MinItems)
	case c.Snapshot.StaleLockTimeout <= 0:
		return fmt.Errorf("config: snapshot.staleLockTimeout must be positive")
	case c.Ingest.UpsertParallelism <= 0:
		return fmt.Errorf("config: ingest.upsertParallelism must be positive, got %d", c.Ingest.UpsertParallelism)
	case c.Ingest.UpsertMaxAttempts <= 0:
		return fmt.Errorf("config: ingest.upsertMaxAttempts must be positive, got %d", c.Ingest.UpsertMaxAttempts)
	case c.Retention.HorizonDays <= 0:
		return fmt.Errorf("config: retention.horizonDays must be positive, got %d", c.Retention.HorizonDays)
	case c.EnrichmentTimeout <= 0:
		return fmt.Errorf("config: enrichmentTimeout must be positive")
	}
	return nil
}

func loadDotEnv() {
	path := os.Getenv(dotEnvPathEnv)
	if path == "" {
		path = ".env"
	}
	// 本地开发才会有 .env，缺失不算错误
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		log.Printf("config: load %s: %v", path, err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
