package database

import "github.com/codyseavey/slab-market/internal/config"

func configFor(driver string) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: driver, Path: "unused.db"}
}
