package config

import (
	"os"
	"strings"
)

type AppConfig struct {
	HTTPAddress  string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	KafkaEnabled bool
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddress:  getEnv("HTTP_ADDRESS", ":8080"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaEnabled: getEnv("KAFKA_ENABLED", "true") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
