// Package config holds the service configuration, loaded from the
// environment at startup and passed explicitly into every constructor.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN,required"`

	// Substitution plan source.
	PlanBaseURL  string        `env:"VPLAN_BASE_URL" envDefault:"https://dksdd.de/vtp"`
	PlanUser     string        `env:"VPLAN_USER,required"`
	PlanPassword string        `env:"VPLAN_PASSWORD,required"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	// How often the scheduled scrape cycle runs.
	CheckInterval time.Duration `env:"CHECK_INTERVAL" envDefault:"1h"`

	// Persistence: local directory by default, Cloud Storage bucket when set.
	DataDir               string `env:"DATA_DIR" envDefault:"./data"`
	Bucket                string `env:"STORAGE_BUCKET"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`

	// Meme rendering.
	TemplateDir string `env:"MEME_TEMPLATE_DIR" envDefault:"./templates"`
	OutputDir   string `env:"MEME_OUTPUT_DIR" envDefault:"./output"`
	CounterFile string `env:"MEME_COUNTER_FILE" envDefault:"./data/template_counter"`
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
