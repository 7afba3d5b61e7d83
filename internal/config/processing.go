package config

import (
	"os"
	"strconv"
	"time"
)

type QueueConfig struct {
	RetryDelay    time.Duration
	MaxAttempts   int
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration
	PollTimeout   time.Duration
	PumpInterval  time.Duration
}

func LoadQueueConfig() *QueueConfig {
	return &QueueConfig{
		RetryDelay:    getEnvAsDuration("QUEUE_RETRY_DELAY", 60*time.Second),
		MaxAttempts:   getEnvAsInt("QUEUE_MAX_ATTEMPTS", 3),
		SoftTimeLimit: getEnvAsDuration("QUEUE_SOFT_TIME_LIMIT", 5*time.Minute),
		HardTimeLimit: getEnvAsDuration("QUEUE_HARD_TIME_LIMIT", 10*time.Minute),
		PollTimeout:   getEnvAsDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
		PumpInterval:  getEnvAsDuration("QUEUE_PUMP_INTERVAL", time.Second),
	}
}

type WorkerConfig struct {
	Concurrency int
}

func LoadWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
	}
}

type RetentionConfig struct {
	InputCleanupDelay time.Duration
	RetentionWindow   time.Duration
	SweepInterval     time.Duration
}

func LoadRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		InputCleanupDelay: getEnvAsDuration("RETENTION_INPUT_CLEANUP_DELAY", time.Hour),
		RetentionWindow:   getEnvAsDuration("RETENTION_WINDOW", 7*24*time.Hour),
		SweepInterval:     getEnvAsDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
	}
}

type WebhookConfig struct {
	Timeout time.Duration
}

func LoadWebhookConfig() *WebhookConfig {
	return &WebhookConfig{
		Timeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 30*time.Second),
	}
}

type StorageConfig struct {
	Path                string
	URLPrefix           string
	MaxImagesPerRequest int
}

func LoadStorageConfig() *StorageConfig {
	return &StorageConfig{
		Path:                getEnv("STORAGE_PATH", "./storage"),
		URLPrefix:           getEnv("STORAGE_URL_PREFIX", "/files"),
		MaxImagesPerRequest: getEnvAsInt("MAX_IMAGES_PER_REQUEST", 3),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
