// Package config содержит логику чтения конфигурации сервиса пожертвований.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса пожертвований.
type Config struct {
	RunAddress          string `env:"RUN_ADDRESS"`
	DatabaseURI         string `env:"DATABASE_URI"`
	SessionSecret       string `env:"SESSION_SECRET"`
	DonationProductID   int64  `env:"DONATION_PRODUCT_ID"`
	CharityName         string `env:"CHARITY_NAME"`
	AdminLogin          string `env:"ADMIN_LOGIN"`
	AdminPassword       string `env:"ADMIN_PASSWORD"`
	MarkClaimedOnExport bool   `env:"MARK_CLAIMED_ON_EXPORT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	envCfg := Config{}
	if err := env.Parse(&envCfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SessionSecret, "s", "", "secret used to sign cookies and nonces")
	flag.Int64Var(&cfg.DonationProductID, "p", 0, "default donation product id")
	flag.StringVar(&cfg.CharityName, "c", "", "charity name shown in the Gift Aid declaration")
	flag.StringVar(&cfg.AdminLogin, "u", "", "bootstrap administrator login")
	flag.StringVar(&cfg.AdminPassword, "w", "", "bootstrap administrator password")
	flag.BoolVar(&cfg.MarkClaimedOnExport, "m", false, "mark exported claims as claimed")

	flag.Parse()

	if isSet("RUN_ADDRESS") && envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if isSet("DATABASE_URI") {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if isSet("SESSION_SECRET") {
		cfg.SessionSecret = envCfg.SessionSecret
	}
	if isSet("DONATION_PRODUCT_ID") {
		cfg.DonationProductID = envCfg.DonationProductID
	}
	if isSet("CHARITY_NAME") {
		cfg.CharityName = envCfg.CharityName
	}
	if isSet("ADMIN_LOGIN") {
		cfg.AdminLogin = envCfg.AdminLogin
	}
	if isSet("ADMIN_PASSWORD") {
		cfg.AdminPassword = envCfg.AdminPassword
	}
	if isSet("MARK_CLAIMED_ON_EXPORT") {
		cfg.MarkClaimedOnExport = envCfg.MarkClaimedOnExport
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

func isSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}
