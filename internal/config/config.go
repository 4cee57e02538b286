package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"coachly/internal/service/scheduler"
	"coachly/pkg/config"
)

type AppConfig struct {
	// BaseURL is the public web app origin used in preference links.
	BaseURL string `yaml:"base_url"`
	// Location is the IANA zone for the weekly day and deadline text.
	Location string `yaml:"location"`
}

type DispatchConfig struct {
	OverdueCadence string `yaml:"overdue_cadence"`
	DryRun         bool   `yaml:"dry_run"`
	LockKey        string `yaml:"lock_key"`
	LockTTLMinutes int    `yaml:"lock_ttl_minutes"`
	// MarkerTTLDays bounds how long weekly and overdue send markers live.
	MarkerTTLDays int `yaml:"marker_ttl_days"`
}

type Config struct {
	DB       config.DBConfig      `yaml:"db"`
	Redis    config.RedisConfig   `yaml:"redis"`
	MQ       config.MQConfig      `yaml:"mq"`
	SMTP     config.SMTPConfig    `yaml:"smtp"`
	App      AppConfig            `yaml:"app"`
	Dispatch DispatchConfig       `yaml:"dispatch"`
	Token    config.TokenConfig   `yaml:"token"`
	Metrics  config.MetricsConfig `yaml:"metrics"`
	Log      config.LogConfig     `yaml:"log"`
}

// Load reads CONFIG_ENV and CONFIG_DIR and loads from there.
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

// LoadFrom merges <dir>/base.yaml, <dir>/<env>.yaml and secrets, applies
// environment overrides, then the given overrides (command line flags), and
// validates the result.
func LoadFrom(env, dir string, overrides ...func(*Config)) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Default()
	if err := config.Decode(cfgMap, cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideTokenFromEnv(&cfg.Token)
	config.OverrideMetricsFromEnv(&cfg.Metrics)
	config.OverrideLogFromEnv(&cfg.Log)
	if baseURL := os.Getenv("APP_BASE_URL"); baseURL != "" {
		cfg.App.BaseURL = baseURL
	}
	if cadence := os.Getenv("OVERDUE_CADENCE"); cadence != "" {
		cfg.Dispatch.OverdueCadence = cadence
	}
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default values apply to keys missing from the YAML files.
func Default() *Config {
	return &Config{
		DB:   config.DBConfig{Host: "localhost", Port: 5432, SlowQueryMillis: 200},
		SMTP: config.SMTPConfig{Port: 587},
		App:  AppConfig{Location: "UTC"},
		Dispatch: DispatchConfig{
			OverdueCadence: string(scheduler.CadenceWeekly),
			LockKey:        "coachly:dispatch:lock",
			LockTTLMinutes: 30,
			MarkerTTLDays:  8,
		},
		Metrics: config.MetricsConfig{Job: "commitment_dispatch"},
		Log:     config.LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := scheduler.ParseCadence(c.Dispatch.OverdueCadence); err != nil {
		errs = append(errs, err)
	}
	if c.App.BaseURL == "" {
		errs = append(errs, errors.New("app.base_url is required"))
	} else if u, err := url.Parse(c.App.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("app.base_url %q must be an absolute http(s) URL", c.App.BaseURL))
	}
	if _, err := time.LoadLocation(c.App.Location); err != nil {
		errs = append(errs, fmt.Errorf("app.location: %w", err))
	}
	if c.Token.Secret == "" {
		errs = append(errs, errors.New("token.secret is required"))
	} else if strings.Contains(c.Token.Secret, "${") {
		errs = append(errs, fmt.Errorf("token.secret placeholder %s is not set", c.Token.Secret))
	}
	if !c.Dispatch.DryRun && c.SMTP.Host == "" {
		errs = append(errs, errors.New("smtp.host is required unless dispatch.dry_run is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) OverdueCadence() scheduler.Cadence {
	cadence, _ := scheduler.ParseCadence(c.Dispatch.OverdueCadence)
	return cadence
}

// TimeLocation falls back to UTC for an unloadable zone; Validate rejects those.
func (c *Config) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(c.App.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Dispatch.LockTTLMinutes) * time.Minute
}

func (c *Config) MarkerTTL() time.Duration {
	return time.Duration(c.Dispatch.MarkerTTLDays) * 24 * time.Hour
}
