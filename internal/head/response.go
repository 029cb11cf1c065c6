package head

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidResponse is returned for any reply that is not a well-formed
// "<pan> <tilt>" position report.
var ErrInvalidResponse = errors.New("invalid position response")

// HeadPosition is a pan/tilt position snapshot as reported by the device.
type HeadPosition struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

// Axis returns the position of the given axis.
func (p HeadPosition) Axis(a Axis) int {
	if a == AxisTilt {
		return p.Tilt
	}
	return p.Pan
}

func (p HeadPosition) String() string {
	return fmt.Sprintf("(pan=%d, tilt=%d)", p.Pan, p.Tilt)
}

// ParsePosition validates and parses a position reply line. The trailing
// delimiter should already be stripped; surrounding CR/LF is tolerated.
func ParsePosition(line string) (HeadPosition, error) {
	line = strings.Trim(line, "\r\n")
	pos, err := ParseFields(strings.Split(line, " "))
	if err != nil {
		return HeadPosition{}, fmt.Errorf("%w: %q", ErrInvalidResponse, line)
	}
	return pos, nil
}

// ParseFields parses pre-split reply tokens. The first two tokens must be
// unsigned decimal integers; anything after them is ignored.
func ParseFields(fields []string) (HeadPosition, error) {
	if len(fields) < 2 || !isDigits(fields[0]) || !isDigits(fields[1]) {
		return HeadPosition{}, ErrInvalidResponse
	}

	pan, err := strconv.Atoi(fields[0])
	if err != nil {
		return HeadPosition{}, fmt.Errorf("%w: pan: %v", ErrInvalidResponse, err)
	}
	tilt, err := strconv.Atoi(fields[1])
	if err != nil {
		return HeadPosition{}, fmt.Errorf("%w: tilt: %v", ErrInvalidResponse, err)
	}
	return HeadPosition{Pan: pan, Tilt: tilt}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
