// Package stores persists deployment run history in SQLite: one row per run,
// per-handler results, every applied or failed mutation and every batch of
// withheld deletions. The schema is managed with embedded migrations.
package stores
