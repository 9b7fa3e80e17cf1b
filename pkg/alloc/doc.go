// Package alloc describes the memory services the mesh runtime relies on.
//
// The runtime never manages device memory itself. It asks an [Allocator] for
// buffers of a given storage [Kind] and writes bytes through each unit's
// [Storage]. Storage kinds form a closed set:
//
//   - KindHost: host-resident memory (pinned system memory)
//   - KindDRAM: device DRAM, interleaved across banks
//   - KindL1: device SRAM
//   - KindTrace: the DRAM region reserved for trace buffers
//
// [BankAllocator] and [Memory] are the reference implementations used by
// the simulated device pool.
package alloc
