// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Struct fields are mapped with `env` tags (see github.com/caarlos0/env):
//
//	type AppConfig struct {
//		Port  int    `env:"PORT" envDefault:"8080"`
//		Debug bool   `env:"DEBUG"`
//		DSN   string `env:"DATABASE_URL,required"`
//	}
//
//	var cfg AppConfig
//	config.MustLoad(&cfg)
//
// Load returns an error for missing required variables or malformed
// values; MustLoad panics instead, for configuration the process cannot
// run without.
package config
