/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	AssetAPIBaseURL         string `mapstructure:"ASSET_API_BASE_URL"`
	AssetAPIKey             string `mapstructure:"ASSET_API_KEY"`
	AssetContract           string `mapstructure:"ASSET_CONTRACT"`
	CustodyAccount          string `mapstructure:"CUSTODY_ACCOUNT"`
	JWTSecret               string `mapstructure:"JWT_SECRET"`
	AdminUserID             string `mapstructure:"ADMIN_USER_ID"`
	WriteRateLimitPerMinute int    `mapstructure:"LEDGER_WRITE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "stratvault:rate_limit")
	viper.SetDefault("CUSTODY_ACCOUNT", "ledger-custody")
	viper.SetDefault("LEDGER_WRITE_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ASSET_API_BASE_URL")
	_ = viper.BindEnv("ASSET_API_KEY")
	_ = viper.BindEnv("ASSET_CONTRACT")
	_ = viper.BindEnv("CUSTODY_ACCOUNT")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("ADMIN_USER_ID", "ADMIN_USER_ID", "LEDGER_ADMIN_USER_ID")
	_ = viper.BindEnv("LEDGER_WRITE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.AdminUserID) == "" {
		config.AdminUserID = strings.TrimSpace(os.Getenv("LEDGER_ADMIN_USER_ID"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "stratvault:rate_limit"
	}
	config.AssetContract = strings.TrimSpace(config.AssetContract)
	config.CustodyAccount = strings.TrimSpace(config.CustodyAccount)
	if config.CustodyAccount == "" {
		config.CustodyAccount = "ledger-custody"
	}

	if config.WriteRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative write rate limit configured; disabling\" limit=%d", config.WriteRateLimitPerMinute)
		config.WriteRateLimitPerMinute = 0
	}

	return
}
