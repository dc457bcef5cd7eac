package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string
	OpsAddr      string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSchema          string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Feed           FeedConfig
	ObjectStore    ObjectStoreConfig
	Redis          RedisConfig
	Metrics        MetricsPushConfig
	DeletionPolicy string
}

// FeedConfig describes the upstream CSV feed host.
type FeedConfig struct {
	Host     string
	Username string
	Password string
}

// ObjectStoreConfig describes the S3 compatible bucket holding the JSON feed.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Key       string
	Region    string
	UseSSL    bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Job       string
}

const (
	DeletionPolicyRemovedFeed = "removed-feed"
	DeletionPolicyFullSync    = "full-sync"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "carlot"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OpsAddr:      getenv("OPS_ADDR", ":8081"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSchema:          strings.TrimSpace(getenv("DATABASE_SCHEMA", "")),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "carlot.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Feed: FeedConfig{
			Host:     strings.TrimRight(getenvFirst("", "ENCAR_HOST", "ENCAR_AUTObASE_HOST"), "/"),
			Username: getenvFirst("", "ENCAR_USER", "ENCAR_AUTObASE_USER"),
			Password: getenvFirst("", "ENCAR_PASS", "ENCAR_AUTObASE_PASS"),
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  strings.TrimSpace(getenv("OBJECT_STORE_ENDPOINT", "")),
			AccessKey: strings.TrimSpace(getenv("OBJECT_STORE_ACCESS_KEY", "")),
			SecretKey: strings.TrimSpace(getenv("OBJECT_STORE_SECRET_KEY", "")),
			Bucket:    getenv("OBJECT_STORE_BUCKET", ""),
			Key:       getenv("OBJECT_STORE_KEY", "encar_files/encar_vehicles_detailed.json"),
			Region:    getenv("OBJECT_STORE_REGION", "auto"),
			UseSSL:    getenvBool("OBJECT_STORE_USE_SSL", true),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Job:       getenv("METRICS_PUSH_JOB", "carlot"),
		},
		DeletionPolicy: NormalizeDeletionPolicy(getenv("DELETION_POLICY", DeletionPolicyRemovedFeed)),
	}

	return cfg
}

// NormalizeDeletionPolicy maps raw input to a known deletion policy.
// Unknown values fall back to removed-feed, the incremental policy.
func NormalizeDeletionPolicy(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case DeletionPolicyFullSync, "full_sync", "fullsync":
		return DeletionPolicyFullSync
	default:
		return DeletionPolicyRemovedFeed
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvFirst(def string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
