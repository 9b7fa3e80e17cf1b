package interactive

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/mesh"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

// BuildWorkload builds a synthetic program for rng made of launches go
// signal records. Identical programs share a program cache key.
func BuildWorkload(f command.Factory, rng coord.Range, prog trace.Program, launches int) (mesh.Workload, error) {
	if launches < 1 {
		return mesh.Workload{}, fmt.Errorf("program needs at least one launch, got %d", launches)
	}

	var mcast, unicast uint8
	if prog.NeedsMcast {
		mcast = 1
	}
	if prog.NeedsUnicast {
		unicast = 1
	}

	b := f()
	for i := range launches {
		err := b.AddDispatchGoSignalMcast(command.GoSignal{
			WaitCount:      uint32(i) * prog.WorkerCores,
			Signal:         command.SignalRun,
			NumMcastTxns:   mcast,
			NumUnicastTxns: unicast,
		})
		if err != nil {
			return mesh.Workload{}, fmt.Errorf("encoding launch %d: %w", i, err)
		}
	}

	cmds := b.Bytes()
	sum := blake2b.Sum256(cmds)
	return mesh.Workload{
		Range:      rng,
		Program:    prog,
		Commands:   cmds,
		ProgramKey: binary.BigEndian.Uint64(sum[:8]),
	}, nil
}

// ComputeProgram returns a program that runs on every tensix core of the
// sub-device and signals them by multicast.
func ComputeProgram(m *mesh.MeshDevice, sub trace.SubDeviceID) (trace.Program, error) {
	cores, err := m.NumWorkerCores(dispatch.CoreTensix, sub)
	if err != nil {
		return trace.Program{}, err
	}
	return trace.Program{
		SubDevice:   sub,
		WorkerCores: cores,
		NeedsMcast:  true,
	}, nil
}
