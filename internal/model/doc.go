// Package model defines the value types shared across the strategy runtime bridge.
//
// Conventions:
//   - Prices and money: shopspring decimal (fixed-point, no float rounding on the wire)
//   - Timestamps: int64 nanoseconds since Unix epoch for market data and signals,
//     time.Time (UTC) for broker-owned records
//   - Enumerations: closed types with String and Parse* helpers; the upper-case names
//     are the wire representation
//
// Values are treated as immutable once produced. Orders, trades, positions and accounts
// are owned by the broker; everyone else receives copies.
package model
