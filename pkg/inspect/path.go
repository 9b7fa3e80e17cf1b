// Package inspect provides mesh inspection and formatting utilities.
//
// The inspect package offers a unified interface for:
//   - Parsing coordinate and range expressions (e.g., "0,0:1,3")
//   - Summarizing a mesh and its submeshes
//   - Formatting segment tables and dispatch counters for display
package inspect

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mesh-runtime/mesh-go/pkg/coord"
)

// Expression errors.
var (
	ErrEmptyExpr     = errors.New("empty expression")
	ErrInvalidRange  = errors.New("invalid range format")
	ErrInvalidNumber = errors.New("invalid numeric value in expression")
	ErrOutOfBounds   = errors.New("coordinate outside mesh")
)

// ParseCoordinate parses a comma separated coordinate such as "0,3".
// Surrounding parentheses are accepted.
func ParseCoordinate(input string) (coord.Coordinate, error) {
	input = strings.TrimSpace(input)
	input = strings.TrimSuffix(strings.TrimPrefix(input, "("), ")")
	if input == "" {
		return coord.Coordinate{}, ErrEmptyExpr
	}

	parts := strings.Split(input, ",")
	idx := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := parseIndex(strings.TrimSpace(p))
		if err != nil {
			return coord.Coordinate{}, fmt.Errorf("%w: %q", ErrInvalidNumber, p)
		}
		idx = append(idx, v)
	}
	return coord.C(idx...), nil
}

// ParseRange parses a range expression against the shape of a mesh.
//
// Supported formats:
//   - "all" or "*" - every coordinate of the shape
//   - "0,1" - a single coordinate
//   - "0,0:1,3" - inclusive start and end corners
func ParseRange(input string, shape coord.Shape) (coord.Range, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return coord.Range{}, ErrEmptyExpr
	}
	switch strings.ToLower(input) {
	case "all", "*":
		return coord.FullRange(shape), nil
	}

	startText, endText, isBox := strings.Cut(input, ":")
	if isBox && (startText == "" || endText == "" || strings.Contains(endText, ":")) {
		return coord.Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, input)
	}

	start, err := ParseCoordinate(startText)
	if err != nil {
		return coord.Range{}, fmt.Errorf("start: %w", err)
	}
	end := start
	if isBox {
		if end, err = ParseCoordinate(endText); err != nil {
			return coord.Range{}, fmt.Errorf("end: %w", err)
		}
	}

	for _, c := range []coord.Coordinate{start, end} {
		if c.Dims() != shape.Dims() {
			return coord.Range{}, fmt.Errorf("%w: %s has %d dimensions, mesh %s has %d",
				ErrInvalidRange, c, c.Dims(), shape, shape.Dims())
		}
		if !shape.Contains(c) {
			return coord.Range{}, fmt.Errorf("%w: %s not in %s", ErrOutOfBounds, c, shape)
		}
	}
	return coord.NewRange(start, end)
}

// FormatRange formats r in the syntax ParseRange accepts.
func FormatRange(r coord.Range) string {
	return joinIndex(r.Start()) + ":" + joinIndex(r.End())
}

func joinIndex(c coord.Coordinate) string {
	parts := make([]string, c.Dims())
	for i := range parts {
		parts[i] = strconv.Itoa(c.At(i))
	}
	return strings.Join(parts, ",")
}

// parseIndex parses a non-negative index from a decimal or hex string.
func parseIndex(s string) (int, error) {
	var v uint64
	var err error

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = strconv.ParseUint(s[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(s, 10, 16)
	}
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
