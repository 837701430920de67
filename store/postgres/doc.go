// Package postgres implements the store using pgx/v5 with raw SQL.
//
// Each atomic store operation is one transaction that first locks the job
// row with SELECT ... FOR UPDATE, then its dispatch run, then offers.
// Concurrent claims, responses and cancellations for the same job
// serialize on the job row while different jobs proceed in parallel, and
// the fixed lock order rules out deadlocks between them. A partial unique index on
// dispatch_offers backs the single-pending-offer rule.
//
// Migrations are embedded SQL files applied in filename order and tracked
// in dispatch_migrations.
package postgres
