// Package version provides the runtime version and trace file format
// version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the release of the mesh runtime tools.
var Version = "0.3.0"

// TraceFormat is the trace file format version written by this library.
const TraceFormat = "1.0"

// FormatVersion represents a parsed "major.minor" format version.
type FormatVersion struct {
	Major uint8
	Minor uint8
}

// Parse parses a "major.minor" version string.
func Parse(s string) (FormatVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return FormatVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || parts[0] == "" {
		return FormatVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || parts[1] == "" {
		return FormatVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return FormatVersion{Major: uint8(major), Minor: uint8(minor)}, nil
}

// Current returns the parsed TraceFormat.
func Current() FormatVersion {
	v, err := Parse(TraceFormat)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v FormatVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
// Readers accept newer minor versions and ignore what they do not know.
func (v FormatVersion) Compatible(other FormatVersion) bool {
	return v.Major == other.Major
}
