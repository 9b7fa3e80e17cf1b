// Package dispatch lays recorded traces out on the device and builds the
// command stream that replays them.
//
// The host keeps per sub-device bookkeeping of what the workers are doing
// (completion counters, launch message ring buffer pointers, config buffer
// occupancy). Capturing a trace must not disturb it, so [State.ResetForCapture]
// saves and zeroes it and [State.Restore] puts it back. After a replay,
// [UpdateWorkerStateAfterReplay] moves it to where the device is.
package dispatch
