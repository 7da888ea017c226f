// Package config contains utilities to manage environment variables
// and the process-wide configuration loaded from them
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config carries the datastore coordinates required at process start
type Config struct {
	DatastoreURL string
	ServiceKey   string
}

// Load reads the required environment variables once. Missing either
// DATASTORE_URL or DATASTORE_SERVICE_KEY is a fatal startup condition
// reported as an error to the caller.
func Load() (Config, error) {
	url, ok := os.LookupEnv("DATASTORE_URL")
	if !ok || url == "" {
		return Config{}, fmt.Errorf("DATASTORE_URL environment variable required")
	}
	key, ok := os.LookupEnv("DATASTORE_SERVICE_KEY")
	if !ok || key == "" {
		return Config{}, fmt.Errorf("DATASTORE_SERVICE_KEY environment variable required")
	}
	return Config{DatastoreURL: url, ServiceKey: key}, nil
}

// Simple helper function to read an environment variable or return a default value
func GetEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

// Simple helper function to read an environment variable into an integer or return a default value
func GetEnvAsInt(key string, defaultVal int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultVal
}

// Simple helper function to read an environment variable into a float or return a default value
func GetEnvAsFloat(key string, defaultVal float64) float64 {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultVal
}
