package gcode

import (
	"fmt"
	"strings"
)

// builder collects immutable output segments and remembers which of them
// form the body.
type builder struct {
	segments    []string
	bodyStart   int
	bodyEnd     int
	lineNumbers bool
	next        int
}

func (b *builder) raw(s string) {
	b.segments = append(b.segments, s)
}

// instruction appends a numbered line.
func (b *builder) instruction(line string) {
	if b.lineNumbers {
		b.segments = append(b.segments, fmt.Sprintf("N%03d ", b.next))
		b.next++
	}
	b.segments = append(b.segments, line)
}

// region copies a caller-supplied block, numbering every line that is not a
// comment or the program marker.
func (b *builder) region(text string) {
	for _, line := range splitLines(text) {
		if isPassThrough(line) {
			b.raw(line)
			continue
		}
		b.instruction(line)
	}
}

func (b *builder) markBodyStart() { b.bodyStart = len(b.segments) }
func (b *builder) markBodyEnd()   { b.bodyEnd = len(b.segments) }

func (b *builder) span() string {
	return strings.Join(b.segments[b.bodyStart:b.bodyEnd], "")
}

func (b *builder) String() string {
	return strings.Join(b.segments, "")
}

// splitLines splits text after each newline, keeping the separators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isPassThrough(line string) bool {
	if strings.HasPrefix(line, ";") {
		return true
	}
	return strings.TrimRight(line, "\r\n") == ProgramMarker
}
