package cmd

import (
	"os"

	"github.com/etnz/espp/eodhd"
	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	APIKey    string // EODHD API key
	CacheDir  string // market data cache folder
	LogLevel  string
	RatesFile string // optional rates override
}

// LoadConfig reads the configuration from the environment, then from the
// given dotenv files (".env" when none). The environment takes precedence.
func LoadConfig(files ...string) Config {
	// A missing .env file is fine.
	dotenv, err := godotenv.Read(files...)
	if err != nil {
		dotenv = map[string]string{}
	}
	getEnv := func(key, defaultValue string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		if value := dotenv[key]; value != "" {
			return value
		}
		return defaultValue
	}
	return Config{
		APIKey:    getEnv("EODHD_API_KEY", ""),
		CacheDir:  getEnv("ESPP_CACHE_DIR", eodhd.DefaultCacheDir),
		LogLevel:  getEnv("ESPP_LOG_LEVEL", "info"),
		RatesFile: getEnv("ESPP_RATES_FILE", ""),
	}
}
