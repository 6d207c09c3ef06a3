package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvPrivateKey      = "PRIVATE_KEY"
	EnvFlashbotsKey    = "FLASHBOTS_KEY"
	EnvWSURL           = "ETH_WS_URL"
	EnvFlashloan       = "FLASHLOAN_CONTRACT"
	EnvTelemetryAccess = "INITIALSTATE_ACCESS_KEY"
	EnvTelemetryBucket = "INITIALSTATE_BUCKET_KEY"
	EnvDryRun          = "DRY_RUN"
)

// LoadEnv loads environment variables from the given .env files, or from
// ./.env when none are given
func LoadEnv(files ...string) error {
	return godotenv.Load(files...)
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv returns the value of key or an error when it is unset
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}

// TelemetryKeys returns the Initial State access and bucket keys
func TelemetryKeys() (accessKey, bucketKey string) {
	return os.Getenv(EnvTelemetryAccess), os.Getenv(EnvTelemetryBucket)
}

func applyEnvOverrides(c *Config) {
	c.WSEndpoint = GetEnvWithDefault(EnvWSURL, c.WSEndpoint)
	c.FlashLoan.Contract = GetEnvWithDefault(EnvFlashloan, c.FlashLoan.Contract)

	if v := os.Getenv(EnvDryRun); v != "" {
		if dryRun, err := strconv.ParseBool(v); err == nil {
			c.DryRun = dryRun
		}
	}
}
