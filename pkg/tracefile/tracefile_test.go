package tracefile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
)

func sampleFile(t *testing.T) File {
	t.Helper()
	shape := coord.MustShape(2, 4)
	desc, err := trace.NewDescriptor([]trace.Segment{
		{Range: coord.MustRange(coord.C(0, 0), coord.C(0, 3)), Data: bytes.Repeat([]byte{0xab}, 300)},
		{Range: coord.MustRange(coord.C(1, 0), coord.C(1, 1)), Data: []byte{1, 2, 3}},
	}, 364, map[trace.SubDeviceID]trace.WorkerDescriptor{
		0: {NumCompletionWorkerCores: 64, NumProgramsNeedingMcast: 2},
		1: {NumCompletionWorkerCores: 4, NumProgramsNeedingUnicast: 1},
	})
	require.NoError(t, err)
	return File{ID: 9, Shape: shape, Descriptor: desc}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture"+Ext)
	want := sampleFile(t)

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.Shape.Equal(got.Shape))
	assert.Equal(t, want.Descriptor.TotalSize(), got.Descriptor.TotalSize())
	assert.Equal(t, want.Descriptor.Workers(), got.Descriptor.Workers())
	assert.Equal(t, want.Descriptor.SubDeviceIDs(), got.Descriptor.SubDeviceIDs())

	wantSegs, gotSegs := want.Descriptor.Segments(), got.Descriptor.Segments()
	require.Len(t, gotSegs, len(wantSegs))
	for i := range wantSegs {
		assert.True(t, wantSegs[i].Range.Equal(gotSegs[i].Range), "segment %d range", i)
		assert.Equal(t, wantSegs[i].Data, gotSegs[i].Data, "segment %d data", i)
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestEncodeDeterministic(t *testing.T) {
	f := sampleFile(t)
	var a, b bytes.Buffer
	require.NoError(t, Encode(&a, f))
	require.NoError(t, Encode(&b, f))
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.Equal(t, Magic[:], a.Bytes()[:4])
}

func TestDecodeErrors(t *testing.T) {
	var good bytes.Buffer
	require.NoError(t, Encode(&good, sampleFile(t)))

	corrupt := func(fn func(b []byte)) []byte {
		b := bytes.Clone(good.Bytes())
		fn(b)
		return b
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrBadMagic},
		{"short header", good.Bytes()[:10], ErrBadMagic},
		{"magic", corrupt(func(b []byte) { b[0] = 'X' }), ErrBadMagic},
		{"version", corrupt(func(b []byte) { b[4] = 7 }), ErrVersion},
		{"newer minor", corrupt(func(b []byte) { b[5] = 9; b[6] ^= 0xff }), ErrDigest},
		{"digest", corrupt(func(b []byte) { b[6] ^= 0xff }), ErrDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, fault.ErrConfiguration)
		})
	}
}

func TestEncodeWithoutDescriptor(t *testing.T) {
	err := Encode(&bytes.Buffer{}, File{ID: 1, Shape: coord.MustShape(1)})
	assert.ErrorIs(t, err, fault.ErrConfiguration)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"+Ext))
	assert.Error(t, err)
}
