// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every threshold the pipeline uses (endpoint, instruments, channels, batch size,
// flush interval, heartbeat timeout) lives here so it can be tuned without a rebuild.
package config
