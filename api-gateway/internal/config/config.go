package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	sharedconfig "github.com/Venomous0511/JeepEZ/shared/config"
)

type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	AuthServiceURL  string        `env:"AUTH_SERVICE_URL" envDefault:"http://localhost:8081"`
	UserServiceURL  string        `env:"USER_SERVICE_URL" envDefault:"http://localhost:8082"`
	JWTSecret       string        `env:"JWT_SECRET,required,notEmpty"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := sharedconfig.ParseEnv(&cfg); err != nil {
		return nil, err
	}
	for name, raw := range map[string]*string{
		"AUTH_SERVICE_URL": &cfg.AuthServiceURL,
		"USER_SERVICE_URL": &cfg.UserServiceURL,
	} {
		*raw = strings.TrimSuffix(*raw, "/")
		if u, err := url.Parse(*raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s must be an absolute URL, got %q", name, *raw)
		}
	}
	if cfg.UpstreamTimeout <= 0 {
		return nil, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", cfg.UpstreamTimeout)
	}
	return &cfg, nil
}
