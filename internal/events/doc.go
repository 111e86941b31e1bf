// Package events broadcasts job lifecycle events.
//
// Every event is published on two channels: the global channel, which
// carries every job's events interleaved, and the job's own channel. Within
// a job channel events arrive in publish order. Subscribers each receive
// their own copy (fan-out). The bus is not a durable log: an event published
// with nobody listening, or to a subscriber whose buffer is full, is dropped.
//
// The primary components are:
//   - Event: the immutable wire record shared by the bus, the cache and the stream
//   - Bus: the publish/subscribe contract
//   - MemoryBus: in-process fan-out
//   - RedisBus: fan-out across processes over Redis pub/sub
//   - Handler: a consumer driven by Consume
package events
