// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. Handlers accept jobs through task.Queue, read
// them cache-first, and hand live subscriptions to the streaming gateway.
package api
