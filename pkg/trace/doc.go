// Package trace records the command bytes a mesh issues during a capture
// window.
//
// Each record event targets a coordinate range and carries the bytes every
// unit of that range executed. The [Recorder] keeps a list of segments whose
// ranges are pairwise disjoint: when a new event overlaps an existing
// segment, the segment is split so that every unit ends up in exactly one
// segment whose bytes are that unit's recorded commands, in order.
//
// A trace id moves through Empty, Recording, Finalized, Uploaded and
// Released; [Buffer] enforces the order.
package trace
