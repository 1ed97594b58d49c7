// Package database opens the PostgreSQL pool used by the order/trade journal.
package database
