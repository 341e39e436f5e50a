// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, e.g. config.production.yaml
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig() // ignore error if not found

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the usual locations so the service can run
// from the repo root or a cmd directory.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}
	for _, p := range possiblePaths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "evworth"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Models.PriceModelPath == "" {
		cfg.Models.PriceModelPath = "models/price_predictor.json"
	}
	if cfg.Models.MetadataPath == "" {
		cfg.Models.MetadataPath = "models/price_metadata.json"
	}
	if cfg.Models.SohModelPath == "" {
		cfg.Models.SohModelPath = "models/soh_model.json"
	}
	if cfg.Soh.MinTrainingRows == 0 {
		cfg.Soh.MinTrainingRows = 10
	}
	if cfg.Soh.TestFraction == 0 {
		cfg.Soh.TestFraction = 0.2
	}
	if cfg.Soh.Trees == 0 {
		cfg.Soh.Trees = 150
	}
	if cfg.Soh.MaxDepth == 0 {
		cfg.Soh.MaxDepth = 10
	}
	if cfg.Soh.Seed == 0 {
		cfg.Soh.Seed = 42
	}
	if cfg.Soh.LimitPerBrand == 0 {
		cfg.Soh.LimitPerBrand = 50
	}
	if cfg.Soh.MaxGroups == 0 {
		cfg.Soh.MaxGroups = 200
	}
	if cfg.Soh.CacheTTL == 0 {
		cfg.Soh.CacheTTL = 300
	}
	if cfg.Soh.FleetTable == "" {
		cfg.Soh.FleetTable = "ev_database_with_degradation"
	}
	if cfg.History.Index == "" {
		cfg.History.Index = "evworth-predictions"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", cfg.Server.Port)
	}
	if cfg.Soh.TestFraction <= 0 || cfg.Soh.TestFraction >= 1 {
		return fmt.Errorf("soh test_fraction must be in (0,1): %f", cfg.Soh.TestFraction)
	}
	if cfg.History.Enabled && len(cfg.Database.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("history indexing enabled but no elasticsearch addresses configured")
	}
	return nil
}
