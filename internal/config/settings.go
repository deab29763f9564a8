package config

import (
	"os"
	"strconv"
	"time"
)

// Settings is the full tuning surface of the tracking core, loaded from
// the environment with defaults.
type Settings struct {
	HTTPAddr string

	IndexRefreshInterval  time.Duration
	AccidentDedupe        time.Duration
	ProducerIdleTimeout   time.Duration
	SubscriberIdleTimeout time.Duration
	HeartbeatInterval     time.Duration
	SubscriberQueueHigh   int
	SubscriberQueueKill   int
	WriteMaxAttempts      int
	VehicleIdleEviction   time.Duration
	MaxClockSkew          time.Duration
	SampleRetention       time.Duration
	TelemetryRetention    time.Duration
	ExpiryInterval        time.Duration

	SampleRatePerSec float64
	SampleBurst      int

	DeviceTokenTTL time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RabbitMQURL string
}

func LoadSettings() *Settings {
	return &Settings{
		HTTPAddr: getEnv("HTTP_ADDR", "0.0.0.0:8080"),

		IndexRefreshInterval:  getEnvDuration("INDEX_REFRESH_INTERVAL", 30*time.Second),
		AccidentDedupe:        getEnvDuration("ACCIDENT_DEDUPE", 60*time.Second),
		ProducerIdleTimeout:   getEnvDuration("PRODUCER_IDLE_TIMEOUT", 120*time.Second),
		SubscriberIdleTimeout: getEnvDuration("SUBSCRIBER_IDLE_TIMEOUT", 60*time.Second),
		HeartbeatInterval:     getEnvDuration("HEARTBEAT_INTERVAL", 25*time.Second),
		SubscriberQueueHigh:   getEnvInt("SUBSCRIBER_QUEUE_HIGH", 256),
		SubscriberQueueKill:   getEnvInt("SUBSCRIBER_QUEUE_KILL", 1024),
		WriteMaxAttempts:      getEnvInt("WRITE_MAX_ATTEMPTS", 3),
		VehicleIdleEviction:   getEnvDuration("VEHICLE_IDLE_EVICTION", 6*time.Hour),
		MaxClockSkew:          getEnvDuration("MAX_CLOCK_SKEW", 30*time.Second),
		SampleRetention:       time.Duration(getEnvInt("SAMPLE_RETENTION_DAYS", 30)) * 24 * time.Hour,
		TelemetryRetention:    time.Duration(getEnvInt("TELEMETRY_RETENTION_DAYS", 90)) * 24 * time.Hour,
		ExpiryInterval:        getEnvDuration("EXPIRY_INTERVAL", time.Hour),

		SampleRatePerSec: getEnvFloat("SAMPLE_RATE_PER_SEC", 10),
		SampleBurst:      getEnvInt("SAMPLE_BURST", 20),

		DeviceTokenTTL: getEnvDuration("DEVICE_TOKEN_TTL", 12*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
	}
}

func getEnvInt(key string, defaultValue int) int {
	if v, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
