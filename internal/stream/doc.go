// Package stream turns event-bus subscriptions into client-facing push
// streams. A stream is answered from the result cache when possible,
// otherwise it follows the job's channel until a terminal event and then
// ends. Streams never outlive their job: the store is re-checked on every
// heartbeat so a dropped terminal event cannot leave a client waiting.
package stream
