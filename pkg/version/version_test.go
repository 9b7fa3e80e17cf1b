package version

import (
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint8
		minor uint8
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2.0", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"abc",
		"1.0.0",
		"1.x",
		"-1.0",
		"256.0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestCurrent(t *testing.T) {
	v := Current()
	if v.String() != TraceFormat {
		t.Errorf("Current().String() = %q, want %q", v.String(), TraceFormat)
	}
}

func TestCompatible(t *testing.T) {
	v1_0 := FormatVersion{Major: 1, Minor: 0}
	v1_1 := FormatVersion{Major: 1, Minor: 1}
	v2_0 := FormatVersion{Major: 2, Minor: 0}

	if !v1_0.Compatible(v1_1) {
		t.Error("1.0 should be compatible with 1.1")
	}
	if v1_0.Compatible(v2_0) {
		t.Error("1.0 should not be compatible with 2.0")
	}
}
