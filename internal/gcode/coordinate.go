package gcode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultHoleFormat renders a coordinate as a linear move.
const DefaultHoleFormat = "G1 X%s Y%s"

// Coordinate is an X/Y position on the bed in millimetres.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// C is shorthand for Coordinate{X: x, Y: y}.
func C(x, y float64) Coordinate {
	return Coordinate{X: x, Y: y}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%s,%s)", FormatNumber(c.X), FormatNumber(c.Y))
}

// CoordinatesFromPairs converts decoded [x, y] pairs into coordinates.
// Pairs with any other arity fail with a FormatError.
func CoordinatesFromPairs(pairs [][]float64) ([]Coordinate, error) {
	coords := make([]Coordinate, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, &FormatError{Reason: fmt.Sprintf("coordinate %d has %d values, want 2", i, len(p))}
		}
		coords = append(coords, Coordinate{X: p[0], Y: p[1]})
	}
	return coords, nil
}

// ParseCoordinate reads "x,y" or "(x,y)", the form String produces.
func ParseCoordinate(s string) (Coordinate, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "("), ")")
	xs, ys, ok := strings.Cut(trimmed, ",")
	if !ok {
		return Coordinate{}, &FormatError{Reason: fmt.Sprintf("coordinate %q is not x,y", s)}
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return Coordinate{}, &FormatError{Reason: fmt.Sprintf("coordinate %q: bad x", s)}
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return Coordinate{}, &FormatError{Reason: fmt.Sprintf("coordinate %q: bad y", s)}
	}
	return Coordinate{X: x, Y: y}, nil
}

// FormatNumber prints a number in its shortest round-trip form, keeping one
// decimal place for integral values ("30.0", "136.8190476190476").
func FormatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatCoordinate renders c with a printf-style format holding exactly two
// verbs, X first. %s and %v verbs receive FormatNumber output; any other verb
// (for example %.3f) receives the raw float.
func FormatCoordinate(format string, c Coordinate) (string, error) {
	verbs, err := scanVerbs(format)
	if err != nil {
		return "", err
	}
	if len(verbs) != 2 {
		return "", &FormatError{Format: format, Reason: fmt.Sprintf("found %d coordinate slots, want 2", len(verbs))}
	}

	values := [2]float64{c.X, c.Y}
	operands := make([]any, 2)
	for i, verb := range verbs {
		switch verb {
		case 's', 'v':
			operands[i] = FormatNumber(values[i])
		case 'f', 'F', 'e', 'E', 'g', 'G':
			operands[i] = values[i]
		default:
			return "", &FormatError{Format: format, Reason: fmt.Sprintf("unsupported verb %%%c", verb)}
		}
	}
	return fmt.Sprintf(format, operands...), nil
}

// scanVerbs returns the verb characters of a printf format, skipping "%%".
func scanVerbs(format string) ([]rune, error) {
	var verbs []rune
	rs := []rune(format)
	for i := 0; i < len(rs); i++ {
		if rs[i] != '%' {
			continue
		}
		i++
		// flags, width, precision
		for i < len(rs) && strings.ContainsRune("+-# 0123456789.", rs[i]) {
			i++
		}
		if i >= len(rs) {
			return nil, &FormatError{Format: format, Reason: "dangling %"}
		}
		if rs[i] == '%' {
			continue
		}
		if rs[i] == '*' || rs[i] == '[' {
			return nil, &FormatError{Format: format, Reason: "indexed or star arguments are not supported"}
		}
		verbs = append(verbs, rs[i])
	}
	return verbs, nil
}
