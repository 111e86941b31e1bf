// Package postgres provides the PostgreSQL implementation of the job store
// defined in internal/store. It uses database/sql with the pgx driver,
// expresses every state transition as a guarded UPDATE, and maps driver
// errors to store sentinels with MapError.
package postgres
