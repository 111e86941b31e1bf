// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config.yaml. Every option of the
// orchestration core (cache TTL, retry budget, backoff, breaker threshold and
// cooldown, worker pool size, task timeouts) is recognized here.
package config
