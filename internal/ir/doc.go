// Package ir provides the value types used for transaction arguments and
// event payloads, their canonical JSON encoding, and content-addressed ids.
//
// ir imports nothing internal; every other package may import it.
//
// Key constraints:
//   - NO float types (amounts are int64 gwei, times are unix seconds)
//   - Object keys serialize in RFC 8785 order (UTF-16 code units)
//   - Ids are SHA-256 over a domain prefix, a 0x00 separator, and the
//     canonical JSON of the record
package ir
