// Package command builds the dispatch command sequences the mesh runtime
// hands to each unit's command queue.
//
// The runtime treats commands as opaque: it only asks a [Builder] for typed
// commands (waits, go signals, execute-buffer) and uses the length of the
// resulting bytes for layout. [CBORBuilder] is the reference encoding used by
// the simulated units. Each command is a record of
//
//	+---------------+------------------------+-----------------+
//	| length (4 B)  | CBOR command (length)  | zero padding    |
//	| big-endian    | integer-keyed map      | to alignment    |
//	+---------------+------------------------+-----------------+
//
// so a buffer of commands can be walked with [Decode] for inspection.
package command
