// Package config loads runtime settings for the inference API and the web
// frontend from defaults, an optional config file and the environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server holds the inference API settings.
type Server struct {
	HTTPAddr                string        `mapstructure:"http_addr"`
	GRPCAddr                string        `mapstructure:"grpc_addr"`
	BrainModelPath          string        `mapstructure:"brain_model_path"`
	RetinaModelPath         string        `mapstructure:"retina_model_path"`
	DatabaseDSN             string        `mapstructure:"database_dsn"`
	RedisAddr               string        `mapstructure:"redis_addr"`
	CacheTTL                time.Duration `mapstructure:"cache_ttl"`
	JWTSecret               string        `mapstructure:"jwt_secret"`
	JWTAudience             string        `mapstructure:"jwt_audience"`
	InferenceTimeout        time.Duration `mapstructure:"inference_timeout"`
	MaxConcurrentInferences int           `mapstructure:"max_concurrent_inferences"`
	CORSAllowedOrigins      []string      `mapstructure:"cors_allowed_origins"`
	ShutdownTimeout         time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel                string        `mapstructure:"log_level"`
}

// Web holds the GUI frontend settings.
type Web struct {
	WebAddr         string        `mapstructure:"web_addr"`
	BackendURL      string        `mapstructure:"backend_url"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	SessionMaxBytes int64         `mapstructure:"session_max_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

var serverKeys = map[string]interface{}{
	"http_addr":                 ":8000",
	"grpc_addr":                 "",
	"brain_model_path":          "models/brain_model.scnw",
	"retina_model_path":         "models/retina_model.scnw",
	"database_dsn":              "",
	"redis_addr":                "",
	"cache_ttl":                 10 * time.Minute,
	"jwt_secret":                "",
	"jwt_audience":              "",
	"inference_timeout":         10 * time.Second,
	"max_concurrent_inferences": runtime.GOMAXPROCS(0),
	"cors_allowed_origins":      "http://localhost:8501,http://127.0.0.1:8501",
	"shutdown_timeout":          15 * time.Second,
	"log_level":                 "info",
}

var webKeys = map[string]interface{}{
	"web_addr":          ":8501",
	"backend_url":       "http://localhost:8000/predict",
	"redis_addr":        "",
	"session_ttl":       24 * time.Hour,
	"session_max_bytes": 256 << 20,
	"request_timeout":   30 * time.Second,
	"shutdown_timeout":  15 * time.Second,
	"log_level":         "info",
}

// LoadServer reads the inference API configuration.
func LoadServer() (*Server, error) {
	v, err := newViper(serverKeys)
	if err != nil {
		return nil, err
	}
	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode server config: %w", err)
	}
	cfg.CORSAllowedOrigins = splitList(cfg.CORSAllowedOrigins)
	if cfg.MaxConcurrentInferences < 1 {
		cfg.MaxConcurrentInferences = 1
	}
	if cfg.InferenceTimeout <= 0 {
		return nil, fmt.Errorf("inference_timeout must be positive, got %s", cfg.InferenceTimeout)
	}
	return &cfg, nil
}

// LoadWeb reads the GUI frontend configuration.
func LoadWeb() (*Web, error) {
	v, err := newViper(webKeys)
	if err != nil {
		return nil, err
	}
	var cfg Web
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode web config: %w", err)
	}
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend_url is required")
	}
	return &cfg, nil
}

func newViper(defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from the environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
