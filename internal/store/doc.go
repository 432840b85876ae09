// Package store provides SQLite-backed durable storage for votepool state.
//
// A saved state has two parts:
//   - State tables: accounts, instances, rounds, candidates, voters.
//     These mirror chain.Snapshot and are rewritten on every save.
//   - Log tables: transactions and events. These are append-only and keyed
//     by seq; a save only inserts rows it has not seen before.
//
// # Deterministic Reads
//
// Every query orders explicitly (ORDER BY seq ASC, id COLLATE BINARY ASC
// for log rows, by position for state rows) so that a load followed by a
// save is byte-identical.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Times are stored as Unix nanoseconds; a zero time is stored as NULL.
package store
