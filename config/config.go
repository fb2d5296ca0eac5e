package config

import (
	"strings"
	"time"

	"github.com/gotify/configor"
	"github.com/pkg/errors"
)

// ExampleSecret is the placeholder secret of config.example.yml. It is only
// accepted together with dev tokens.
const ExampleSecret = "change-me"

type Configuration struct {
	App struct {
		ListenAddr string `default:"" env:"APP_HOST"`
		Port       int    `default:"8080" env:"APP_PORT"`
		// Timezone is reported on webhook payloads.
		Timezone string `default:"Europe/London" env:"APP_TIMEZONE"`
	}
	Database struct {
		Path string `default:"leave.db" env:"DB_PATH"`
	}
	Auth struct {
		JWTSecret      string `default:"" env:"AUTH_JWT_SECRET"`
		TokenTTLHours  int    `default:"24" env:"AUTH_TOKEN_TTL_HOURS"`
		AllowDevTokens *bool  `default:"false" env:"AUTH_ALLOW_DEV_TOKENS"`
	}
	Cors struct {
		AllowedOrigins []string `default:"[\"*\"]" env:"CORS_ALLOWED_ORIGINS"`
	}
	Log struct {
		Level  string `default:"info" env:"LOG_LEVEL"`
		Format string `default:"json" env:"LOG_FORMAT"` // json, console
	}
	Webhook struct {
		URL            string   `default:"" env:"WEBHOOK_URL"`
		TimeoutSeconds int      `default:"5" env:"WEBHOOK_TIMEOUT_SECONDS"`
		Async          *bool    `default:"true" env:"WEBHOOK_ASYNC"`
		KafkaBrokers   []string `default:"[]" env:"WEBHOOK_KAFKA_BROKERS"`
		KafkaTopic     string   `default:"leave.events" env:"WEBHOOK_KAFKA_TOPIC"`
	}
	Jobs struct {
		// YearEndIntervalMinutes is how often closed tracking years are
		// snapshotted. Zero disables the job.
		YearEndIntervalMinutes int `default:"60" env:"JOBS_YEAR_END_INTERVAL_MINUTES"`
	}
}

// Load reads the given files in order, later files and the environment
// overriding earlier values. With no files it reads config.yml if present.
// The result is validated.
func Load(files ...string) (*Configuration, error) {
	if len(files) == 0 {
		files = []string{"config.yml"}
	}
	conf := new(Configuration)
	if err := configor.New(&configor.Config{}).Load(conf, files...); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate refuses to sign session tokens with an empty or published secret
// unless dev tokens are enabled, where anyone can get a token anyway.
func (c *Configuration) Validate() error {
	if c.DevTokens() {
		return nil
	}
	secret := strings.TrimSpace(c.Auth.JWTSecret)
	if secret == "" || secret == ExampleSecret {
		return errors.New("auth.jwtsecret must be set to a private value (AUTH_JWT_SECRET)")
	}
	return nil
}

func (c *Configuration) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLHours) * time.Hour
}

func (c *Configuration) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

func (c *Configuration) YearEndInterval() time.Duration {
	return time.Duration(c.Jobs.YearEndIntervalMinutes) * time.Minute
}

func (c *Configuration) DevTokens() bool {
	return c.Auth.AllowDevTokens != nil && *c.Auth.AllowDevTokens
}

func (c *Configuration) AsyncWebhooks() bool {
	return c.Webhook.Async != nil && *c.Webhook.Async
}

// Brokers drops blank entries. An empty list disables Kafka delivery.
func (c *Configuration) Brokers() []string {
	var brokers []string
	for _, b := range c.Webhook.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
