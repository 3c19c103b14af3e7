package core

import (
	"fmt"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env            string  `yaml:"env" env:"ENV" env-default:"local"`
	TelegramApiKey string  `yaml:"telegram_api_key" env:"TELEGRAM_TOKEN" env-default:""`
	BotUsername    string  `yaml:"bot_username" env:"BOT_USERNAME" env-default:""`
	GeminiApiKey   string  `yaml:"gemini_api_key" env:"GEMINI_API_KEY" env-default:""`
	Privileged     []int64 `yaml:"privileged" env:"PRIVILEGED_IDS"`
	Gemini         struct {
		TimeoutSeconds int     `yaml:"timeout_seconds" env:"GEMINI_HTTP_TIMEOUT" env-default:"120"`
		MaxAttempts    int     `yaml:"max_attempts" env:"GEMINI_HTTP_MAX_RETRIES" env-default:"3"`
		BackoffSeconds float64 `yaml:"backoff_seconds" env:"GEMINI_HTTP_BACKOFF_BASE" env-default:"1"`
	} `yaml:"gemini"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:"admin"`
		Password string `yaml:"password" env-default:"pass"`
		Database string `yaml:"database" env-default:""`
	} `yaml:"mongo"`
	WebApi struct {
		Enabled    bool   `yaml:"enabled" env-default:"false"`
		Listen     string `yaml:"listen" env-default:":8080"`
		RefBaseURL string `yaml:"ref_base_url" env-default:"https://t.me/Orbit_AIBot"`
	} `yaml:"web_api"`
}

var instance *Config
var once sync.Once

func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
		}
	})
	return instance, err
}

func MustLoad(path string) *Config {
	conf, err := GetConfig(path)
	if err != nil {
		panic(err)
	}
	return conf
}

// IsPrivileged reports whether the id is on the allow-list that bypasses
// the credit ledger.
func (c *Config) IsPrivileged(id int64) bool {
	for _, p := range c.Privileged {
		if p == id {
			return true
		}
	}
	return false
}
