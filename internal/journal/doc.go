// Package journal persists broker orders and trades to PostgreSQL.
//
// Records are buffered, batched and written with pgx batches: orders are
// upserted on order_id, trades are inserted once and conflicts ignored.
package journal
