// Package config loads loadguard configuration.
//
// Values are layered, each overriding the previous: the defaults already in
// the target struct, a config.yml found next to the command (or given
// explicitly), then environment variables, optionally restricted to a prefix.
// A .env file, when present, is loaded into the environment first.
//
// # Usage
//
//	cfg := Config{Resilience: resilience.ConfigForTier(tier)}
//	err := config.LoadConfig("loadguard", &cfg, config.WithEnvPrefix("LOADGUARD"))
//
// With the prefix, LOADGUARD_RESILIENCE_RATE_LIMIT_BUCKET_SIZE=20 sets
// resilience.rate_limit.bucket_size.
package config
