package tracefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
	"github.com/mesh-runtime/mesh-go/pkg/trace"
	"github.com/mesh-runtime/mesh-go/pkg/version"
)

// Magic identifies a trace file.
var Magic = [4]byte{'M', 'T', 'R', 'C'}

// Ext is the conventional file extension.
const Ext = ".mtrace"

const headerSize = len(Magic) + 2 + blake2b.Size256

// Format errors.
var (
	ErrBadMagic = errors.New("not a trace file")
	ErrVersion  = errors.New("unsupported trace file version")
	ErrDigest   = errors.New("trace file digest mismatch")
)

// File is the content of a trace file.
type File struct {
	// ID is the trace id the trace was captured under.
	ID trace.ID

	// Shape is the shape of the mesh the trace was captured on.
	Shape coord.Shape

	Descriptor *trace.Descriptor
}

type body struct {
	ID        uint32                                       `cbor:"1,keyasint"`
	Shape     []int                                        `cbor:"2,keyasint"`
	TotalSize uint64                                       `cbor:"3,keyasint"`
	Segments  []segment                                    `cbor:"4,keyasint"`
	Workers   map[trace.SubDeviceID]trace.WorkerDescriptor `cbor:"5,keyasint,omitempty"`
}

type segment struct {
	Start []int  `cbor:"1,keyasint"`
	End   []int  `cbor:"2,keyasint"`
	Data  []byte `cbor:"3,keyasint"`
}

var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace file CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace file CBOR decoder mode: %v", err))
	}
}

// Encode writes f to w.
func Encode(w io.Writer, f File) error {
	const op = "tracefile.Encode"

	if f.Descriptor == nil {
		return fault.Configf(op, "trace %d has no descriptor", f.ID)
	}
	b := body{
		ID:        uint32(f.ID),
		Shape:     f.Shape.Sizes(),
		TotalSize: f.Descriptor.TotalSize(),
		Workers:   f.Descriptor.Workers(),
	}
	for _, s := range f.Descriptor.Segments() {
		b.Segments = append(b.Segments, segment{
			Start: s.Range.Start().Values(),
			End:   s.Range.End().Values(),
			Data:  s.Data,
		})
	}
	raw, err := encMode.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode trace %d: %w", f.ID, err)
	}
	digest := blake2b.Sum256(raw)

	header := make([]byte, 0, headerSize)
	header = append(header, Magic[:]...)
	v := version.Current()
	header = append(header, v.Major, v.Minor)
	header = append(header, digest[:]...)
	if _, err := w.Write(header); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Decode reads a trace file from r and rebuilds its descriptor.
func Decode(r io.Reader) (File, error) {
	const op = "tracefile.Decode"

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, ErrBadMagic, "reading %d B header: %v", headerSize, err)
	}
	if !bytes.Equal(header[:len(Magic)], Magic[:]) {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, ErrBadMagic, "magic %q", header[:len(Magic)])
	}
	v := version.FormatVersion{Major: header[len(Magic)], Minor: header[len(Magic)+1]}
	if !version.Current().Compatible(v) {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, ErrVersion, "format %s, reader supports %s", v, version.TraceFormat)
	}
	want := header[len(Magic)+2:]

	zr, err := zstd.NewReader(r)
	if err != nil {
		return File{}, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, err, "decompressing trace body")
	}
	if got := blake2b.Sum256(raw); !bytes.Equal(got[:], want) {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, ErrDigest, "body digest %x, header says %x", got[:8], want[:8])
	}

	var b body
	if err := decMode.Unmarshal(raw, &b); err != nil {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, err, "decoding trace body")
	}
	shape, err := coord.NewShape(b.Shape...)
	if err != nil {
		return File{}, fault.Wrap(fault.ClassConfiguration, op, err, "trace %d shape", b.ID)
	}

	segments := make([]trace.Segment, len(b.Segments))
	for i, s := range b.Segments {
		if len(s.Start) != shape.Dims() || len(s.End) != shape.Dims() {
			return File{}, fault.Configf(op, "segment %d has rank %d/%d, mesh shape %s has rank %d",
				i, len(s.Start), len(s.End), shape, shape.Dims())
		}
		rng, err := coord.NewRange(coord.C(s.Start...), coord.C(s.End...))
		if err != nil {
			return File{}, fault.Wrap(fault.ClassConfiguration, op, err, "segment %d", i)
		}
		segments[i] = trace.Segment{Range: rng, Data: s.Data}
	}
	desc, err := trace.NewDescriptor(segments, b.TotalSize, b.Workers)
	if err != nil {
		return File{}, err
	}
	return File{ID: trace.ID(b.ID), Shape: shape, Descriptor: desc}, nil
}

// Save writes f to path, replacing any existing file.
func Save(path string, f File) error {
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write trace file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename trace file: %w", err)
	}
	return nil
}

// Load reads the trace file at path.
func Load(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open trace file: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}
