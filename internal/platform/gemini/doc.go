// Package gemini exposes Google's Gemini API as task handlers.
//
// Each handler builds a prompt from the job input, asks the model for a JSON
// answer and returns it as the job result. Failures are classified for the
// resilience envelope: rate limits, server errors and timeouts are
// transient; blocked content, malformed answers and other client errors are
// permanent. Handlers are registered per call under the "gemini" dependency:
// each prompt is retried on its own and one circuit breaker sees every call
// to the API.
package gemini
