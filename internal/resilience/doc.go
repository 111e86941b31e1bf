// Package resilience wraps calls to unreliable dependencies with two
// independent policies: a classified retry policy with capped exponential
// backoff, and a per-dependency circuit breaker shared by every worker.
//
// Errors are classified by wrapping them with Transient or Permanent.
// Unclassified errors are treated as permanent and never retried.
package resilience
