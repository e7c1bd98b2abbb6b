package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr               string
	MongoURI               string // empty disables playback history
	MongoDatabase          string
	LogLevel               string
	LogFormat              string
	TorrentDataDir         string
	StorageMode            string
	MemoryLimitBytes       int64
	TorrentListenPort      int // 0 keeps the client default
	TorrentNoDHT           bool
	TorrentDisableTrackers bool
	FetchTimeout           time.Duration
	CORSAllowedOrigins     []string
	OTLPEndpoint           string
	TraceSampleRate        float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:               ":" + getEnv("CINEMA_PORT", "8000"),
		MongoURI:               getEnv("MONGO_URI", ""),
		MongoDatabase:          getEnv("MONGO_DB", "cinema"),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:              strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:         getEnv("TORRENT_DATA_DIR", "data"),
		StorageMode:            strings.ToLower(getEnv("TORRENT_STORAGE_MODE", "disk")),
		MemoryLimitBytes:       getEnvInt64("TORRENT_MEMORY_LIMIT_BYTES", 0),
		TorrentListenPort:      int(getEnvInt64("TORRENT_LISTEN_PORT", 0)),
		TorrentNoDHT:           getEnvBool("TORRENT_NO_DHT", false),
		TorrentDisableTrackers: getEnvBool("TORRENT_DISABLE_TRACKERS", false),
		FetchTimeout:           time.Duration(getEnvInt64("FETCH_TIMEOUT_SECONDS", 120)) * time.Second,
		CORSAllowedOrigins:     parseCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
		OTLPEndpoint:           strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		TraceSampleRate:        getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
