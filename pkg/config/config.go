// Package config loads the mesh runtime configuration.
//
// A configuration is read from a YAML or TOML file, chosen by extension,
// on top of [Default]. Every field a file leaves out keeps its default.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mesh-runtime/mesh-go/pkg/command"
	"github.com/mesh-runtime/mesh-go/pkg/coord"
	"github.com/mesh-runtime/mesh-go/pkg/device"
	"github.com/mesh-runtime/mesh-go/pkg/dispatch"
	"github.com/mesh-runtime/mesh-go/pkg/fault"
)

// Format is a configuration file format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Config is the complete mesh runtime configuration.
type Config struct {
	Mesh     MeshConfig     `yaml:"mesh" toml:"mesh"`
	Dispatch DispatchConfig `yaml:"dispatch" toml:"dispatch"`
	System   SystemConfig   `yaml:"system" toml:"system"`
}

// MeshConfig describes the mesh to open.
type MeshConfig struct {
	// Shape is the logical mesh shape, e.g. "2x4".
	Shape string `yaml:"shape" toml:"shape"`

	// Policy is "contiguous" or "any".
	Policy string `yaml:"policy" toml:"policy"`

	TraceRegionSize uint64 `yaml:"trace_region_size" toml:"trace_region_size"`
	L1SmallSize     uint64 `yaml:"l1_small_size" toml:"l1_small_size"`
	NumCQs          int    `yaml:"num_command_queues" toml:"num_command_queues"`

	// TraceBanks is the number of DRAM banks trace buffers interleave across.
	TraceBanks int `yaml:"trace_banks" toml:"trace_banks"`
}

// DispatchConfig describes the dispatch firmware.
type DispatchConfig struct {
	HostAlignment         int         `yaml:"host_alignment" toml:"host_alignment"`
	DispatchSEnabled      bool        `yaml:"dispatch_s_enabled" toml:"dispatch_s_enabled"`
	DistributedDispatcher bool        `yaml:"distributed_dispatcher" toml:"distributed_dispatcher"`
	MessageBase           uint32      `yaml:"message_base" toml:"message_base"`
	MessageStride         uint32      `yaml:"message_stride" toml:"message_stride"`
	Core                  device.Grid `yaml:"core" toml:"core"`
}

// SystemConfig describes the simulated system the pool is built over.
type SystemConfig struct {
	Rows int `yaml:"rows" toml:"rows"`
	Cols int `yaml:"cols" toml:"cols"`

	Arch               string      `yaml:"arch" toml:"arch"`
	L1SizePerCore      uint64      `yaml:"l1_size_per_core" toml:"l1_size_per_core"`
	DRAMSizePerChannel uint64      `yaml:"dram_size_per_channel" toml:"dram_size_per_channel"`
	NumDRAMChannels    int         `yaml:"num_dram_channels" toml:"num_dram_channels"`
	NumHWCQs           int         `yaml:"num_hw_cqs" toml:"num_hw_cqs"`
	ComputeGrid        device.Grid `yaml:"compute_grid" toml:"compute_grid"`
	Grid               device.Grid `yaml:"grid" toml:"grid"`
	DRAMGrid           device.Grid `yaml:"dram_grid" toml:"dram_grid"`
	FastDispatch       bool        `yaml:"fast_dispatch" toml:"fast_dispatch"`
	ActiveEthCores     int         `yaml:"active_eth_cores" toml:"active_eth_cores"`
	InactiveEthCores   int         `yaml:"inactive_eth_cores" toml:"inactive_eth_cores"`
}

// Default returns the configuration of a 2x4 mesh on a 2x4 system.
func Default() Config {
	s := dispatch.DefaultSettings()
	return Config{
		Mesh: MeshConfig{
			Shape:           "2x4",
			Policy:          device.PolicyContiguous.String(),
			TraceRegionSize: 16 << 20,
			L1SmallSize:     32 << 10,
			NumCQs:          1,
			TraceBanks:      12,
		},
		Dispatch: DispatchConfig{
			HostAlignment: s.HostAlignment,
			MessageBase:   s.DispatchMessageBase,
			MessageStride: s.DispatchMessageStride,
			Core:          s.DispatchCore,
		},
		System: SystemConfig{
			Rows:               2,
			Cols:               4,
			Arch:               "wormhole_b0",
			L1SizePerCore:      1464 << 10,
			DRAMSizePerChannel: 1 << 30,
			NumDRAMChannels:    12,
			NumHWCQs:           2,
			ComputeGrid:        device.Grid{X: 8, Y: 8},
			Grid:               device.Grid{X: 10, Y: 12},
			DRAMGrid:           device.Grid{X: 1, Y: 12},
			FastDispatch:       true,
			ActiveEthCores:     4,
			InactiveEthCores:   12,
		},
	}
}

// Load reads the configuration file at path. The format follows the
// extension: .yaml/.yml or .toml.
func Load(path string) (Config, error) {
	const op = "config.Load"

	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return Config{}, fault.Configf(op, "unknown config format %q, want .yaml, .yml or .toml", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fault.Wrap(fault.ClassConfiguration, op, err, "reading %s", path)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fault.Wrap(fault.ClassConfiguration, op, err, "%s", path)
	}
	return cfg, nil
}

// Parse decodes data on top of the defaults and validates the result.
func Parse(data []byte, format Format) (Config, error) {
	const op = "config.Parse"

	cfg := Default()
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fault.Wrap(fault.ClassConfiguration, op, err, "YAML parse error")
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fault.Wrap(fault.ClassConfiguration, op, err, "TOML parse error")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fault.Configf(op, "unknown TOML keys %v", undecoded)
		}
	default:
		return Config{}, fault.Configf(op, "unknown config format %q", format)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values no mesh can be opened with.
func (c Config) Validate() error {
	const op = "config.Validate"

	shape, err := c.MeshShape()
	if err != nil {
		return err
	}
	if _, err := c.PoolPolicy(); err != nil {
		return err
	}

	s := c.System
	if s.Rows <= 0 || s.Cols <= 0 {
		return fault.Configf(op, "system grid %dx%d must have positive dimensions", s.Rows, s.Cols)
	}
	if shape.Size() > s.Rows*s.Cols {
		return fault.Configf(op, "mesh shape %s needs %d units, system has %d", shape, shape.Size(), s.Rows*s.Cols)
	}
	if s.NumHWCQs <= 0 {
		return fault.Configf(op, "num_hw_cqs is %d, must be positive", s.NumHWCQs)
	}
	if s.NumDRAMChannels <= 0 {
		return fault.Configf(op, "num_dram_channels is %d, must be positive", s.NumDRAMChannels)
	}

	m := c.Mesh
	if m.NumCQs < 1 || m.NumCQs > s.NumHWCQs {
		return fault.Configf(op, "num_command_queues is %d, must be between 1 and %d", m.NumCQs, s.NumHWCQs)
	}
	if m.TraceBanks <= 0 {
		return fault.Configf(op, "trace_banks is %d, must be positive", m.TraceBanks)
	}
	if dram := s.DRAMSizePerChannel * uint64(s.NumDRAMChannels); m.TraceRegionSize > dram {
		return fault.Configf(op, "trace_region_size %d B exceeds %d B of DRAM", m.TraceRegionSize, dram)
	}

	d := c.Dispatch
	if d.HostAlignment < 16 || d.HostAlignment&(d.HostAlignment-1) != 0 {
		return fault.Configf(op, "host_alignment %d must be a power of two of at least 16", d.HostAlignment)
	}
	if d.MessageStride == 0 {
		return fault.Configf(op, "message_stride must be positive")
	}
	return nil
}

// MeshShape parses the mesh shape.
func (c Config) MeshShape() (coord.Shape, error) {
	return coord.ParseShape(c.Mesh.Shape)
}

// PoolPolicy parses the placement policy. An empty policy is contiguous.
func (c Config) PoolPolicy() (device.Policy, error) {
	switch strings.ToLower(c.Mesh.Policy) {
	case "", device.PolicyContiguous.String():
		return device.PolicyContiguous, nil
	case device.PolicyAny.String():
		return device.PolicyAny, nil
	default:
		return 0, fault.Configf("config.PoolPolicy", "unknown policy %q, want contiguous or any", c.Mesh.Policy)
	}
}

// InitParams returns the parameters every unit is initialized with.
func (c Config) InitParams() device.InitParams {
	return device.InitParams{
		L1SmallSize:     c.Mesh.L1SmallSize,
		TraceRegionSize: c.Mesh.TraceRegionSize,
		NumCQs:          c.Mesh.NumCQs,
	}
}

// Properties returns the hardware description of the simulated units.
func (c Config) Properties() device.Properties {
	s := c.System
	return device.Properties{
		Arch:               s.Arch,
		L1SizePerCore:      s.L1SizePerCore,
		DRAMSizePerChannel: s.DRAMSizePerChannel,
		NumDRAMChannels:    s.NumDRAMChannels,
		NumHWCQs:           s.NumHWCQs,
		ComputeGrid:        s.ComputeGrid,
		Grid:               s.Grid,
		DRAMGrid:           s.DRAMGrid,
		FastDispatch:       s.FastDispatch,
		ActiveEthCores:     s.ActiveEthCores,
		InactiveEthCores:   s.InactiveEthCores,
	}
}

// DispatchSettings returns the dispatch firmware settings.
func (c Config) DispatchSettings() dispatch.Settings {
	d := c.Dispatch
	return dispatch.Settings{
		HostAlignment:         d.HostAlignment,
		DispatchSEnabled:      d.DispatchSEnabled,
		DistributedDispatcher: d.DistributedDispatcher,
		DispatchMessageBase:   d.MessageBase,
		DispatchMessageStride: d.MessageStride,
		DispatchCore:          d.Core,
	}
}

// CommandFactory returns the command builder factory for the configured
// host alignment.
func (c Config) CommandFactory() command.Factory {
	return command.CBORFactory(c.Dispatch.HostAlignment)
}

// NewSystemPool builds the simulated pool the configuration describes.
func (c Config) NewSystemPool() (*device.SystemPool, error) {
	return device.NewSystemPool(c.System.Rows, c.System.Cols, c.Properties())
}
