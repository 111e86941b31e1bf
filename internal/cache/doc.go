// Package cache holds terminal job snapshots for fast reads.
//
// A single Listener subscribes to the global event channel and, for every
// terminal event, copies the job's terminal record from the store into the
// cache with a TTL. Readers check the cache first and fall back to the
// store on a miss. Terminal records never change, so repeated writes for
// the same job are idempotent.
package cache
