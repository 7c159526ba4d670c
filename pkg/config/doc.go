// Package config loads typed configuration structs from environment variables.
//
// Every package that needs configuration declares a struct with `env` tags
// (github.com/caarlos0/env/v11) and the binary loads them at startup:
//
//	var pgCfg pg.Config
//	config.MustLoad(&pgCfg)
//
// A .env file in the working directory is applied once through
// github.com/joho/godotenv before the first parse. Structs implementing
// Validator are checked after parsing.
package config
