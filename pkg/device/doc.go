// Package device models the physical accelerator units a mesh is built from
// and the pool that owns them.
//
// A [Pool] hands units to meshes and takes them back. [SystemPool] lays its
// units out on a rows x cols grid where grid neighbours are wired, which is
// what makes placement and reshape adjacency-aware. [SimUnit] is an in-process
// unit that keeps submitted command sequences for inspection.
package device
