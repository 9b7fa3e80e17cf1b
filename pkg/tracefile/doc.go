// Package tracefile stores finalized trace descriptors on disk.
//
// A trace file starts with a fixed header holding the magic and format
// version followed by a BLAKE2b-256 digest of the body. The zstd-compressed
// CBOR body comes next with the segments and worker descriptors. A file
// saved from one mesh can be loaded into any mesh whose shape contains the
// recorded ranges, see
// [github.com/mesh-runtime/mesh-go/pkg/mesh.MeshDevice.LoadTrace].
package tracefile
