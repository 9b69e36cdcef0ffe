package gcode

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Fixed instructions emitted around every hole.
const (
	plungeCommand  = "G1 Z-.5 F100"
	retractCommand = "G1 Z3.0 F3000"

	// ProgramMarker is the program start/end line, never numbered.
	ProgramMarker = "%"
)

// Generator assembles a drilling program. It is not safe for concurrent use.
type Generator struct {
	prefix          string
	postfix         string
	holeFormat      string
	lineNumbers     bool
	verboseComments bool

	holes          []Coordinate
	preDrillSeeks  []Coordinate
	postDrillSeeks []Coordinate
	beforeHoles    []string
	afterHoles     []string

	body      string
	generated bool

	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithPrefix sets the setup block. Empty selects the default block.
func WithPrefix(prefix string) Option {
	return func(g *Generator) { g.prefix = prefix }
}

// WithPostfix sets the teardown block. Empty selects the default block.
func WithPostfix(postfix string) Option {
	return func(g *Generator) { g.postfix = postfix }
}

// WithLineNumbers toggles N-prefixed line numbers (default on).
func WithLineNumbers(on bool) Option {
	return func(g *Generator) { g.lineNumbers = on }
}

// WithVerboseComments toggles inline comments (default on). Standalone
// comment lines are always emitted.
func WithVerboseComments(on bool) Option {
	return func(g *Generator) { g.verboseComments = on }
}

// WithHoleFormat sets the coordinate format, see FormatCoordinate.
func WithHoleFormat(format string) Option {
	return func(g *Generator) { g.holeFormat = format }
}

// WithLogger attaches a logger for generation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// New creates a Generator. Prefix and postfix default to the standard setup
// and teardown blocks; non-empty blocks get a trailing newline if missing.
func New(opts ...Option) *Generator {
	g := &Generator{
		holeFormat:      DefaultHoleFormat,
		lineNumbers:     true,
		verboseComments: true,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if g.prefix == "" {
		g.prefix = g.commands(
			[2]string{"G21", "metric mode"},
			[2]string{"G90", "absolute position"},
			[2]string{"G28 X0 Y0", "go home"},
			[2]string{"M42 P23 S255", "turns the spindle on"},
			[2]string{"G1 F3000", "Starting feed rate"},
		)
	} else {
		g.prefix = terminate(g.prefix)
	}
	if g.postfix == "" {
		g.postfix = g.commands(
			[2]string{"M42 P23 S0", "turns the spindle off"},
			[2]string{"G28 X0 Y0", "Go Home"},
			[2]string{"G90", "absolute position"},
		)
	} else {
		g.postfix = terminate(g.postfix)
	}
	return g
}

// Prefix returns the setup block.
func (g *Generator) Prefix() string { return g.prefix }

// SetPrefix replaces the setup block verbatim (a trailing newline is added).
func (g *Generator) SetPrefix(prefix string) { g.prefix = terminate(prefix) }

// Postfix returns the teardown block.
func (g *Generator) Postfix() string { return g.postfix }

// SetPostfix replaces the teardown block verbatim (a trailing newline is added).
func (g *Generator) SetPostfix(postfix string) { g.postfix = terminate(postfix) }

// HoleFormat returns the coordinate format.
func (g *Generator) HoleFormat() string { return g.holeFormat }

// SetHoleFormat replaces the coordinate format. It is validated on Generate.
func (g *Generator) SetHoleFormat(format string) { g.holeFormat = format }

// Holes returns a copy of the hole sequence.
func (g *Generator) Holes() []Coordinate {
	return append([]Coordinate(nil), g.holes...)
}

// AddComment adds a standalone comment. Comments added while no holes are set
// land before the holes; once holes are set they land after them.
func (g *Generator) AddComment(text string) {
	if text == "" {
		return
	}
	if len(g.holes) == 0 {
		g.beforeHoles = append(g.beforeHoles, text)
		return
	}
	g.afterHoles = append(g.afterHoles, text)
}

// SetHoles replaces the hole sequence. Order is the drill order.
func (g *Generator) SetHoles(holes []Coordinate) {
	g.holes = append([]Coordinate(nil), holes...)
}

// AddPreDrillSeek appends a staging move emitted before the first hole.
func (g *Generator) AddPreDrillSeek(c Coordinate) {
	g.preDrillSeeks = append(g.preDrillSeeks, c)
}

// AddPostDrillSeek appends a staging move emitted after the last hole.
func (g *Generator) AddPostDrillSeek(c Coordinate) {
	g.postDrillSeeks = append(g.postDrillSeeks, c)
}

// Body returns the text between prefix and postfix of the last Generate.
func (g *Generator) Body() (string, error) {
	if !g.generated {
		return "", ErrBodyNotAvailable
	}
	return g.body, nil
}

// Generate assembles the full program and caches its body.
func (g *Generator) Generate() (string, error) {
	b := &builder{lineNumbers: g.lineNumbers, next: 1}

	b.region(g.prefix)
	b.markBodyStart()

	for _, c := range g.beforeHoles {
		b.raw(commentLine(c))
	}

	for _, c := range g.preDrillSeeks {
		if err := g.move(b, c, "Seek pre drill XY location"); err != nil {
			return "", err
		}
	}

	for i, hole := range g.holes {
		n := i + 1
		b.raw(commentLine(fmt.Sprintf("--- Begin Hole # %d at position X %s and Y %s",
			n, FormatNumber(hole.X), FormatNumber(hole.Y))))
		if err := g.move(b, hole, "Drill hole location"); err != nil {
			return "", err
		}
		b.instruction(g.inline(plungeCommand, "Drill hole"))
		b.instruction(g.inline(retractCommand, "Retract drill to safe position"))
		b.raw(commentLine(fmt.Sprintf("--- End Hole # %d", n)))
	}
	if len(g.holes) == 0 {
		b.raw(commentLine("No Drill holes defined"))
	}

	for _, c := range g.postDrillSeeks {
		if err := g.move(b, c, "Seek post drill XY location"); err != nil {
			return "", err
		}
	}

	for _, c := range g.afterHoles {
		b.raw(commentLine(c))
	}

	b.markBodyEnd()
	b.region(g.postfix)

	g.body = b.span()
	g.generated = true

	out := b.String()
	g.logger.Debug("generated toolpath",
		"holes", len(g.holes),
		"pre_seeks", len(g.preDrillSeeks),
		"post_seeks", len(g.postDrillSeeks),
		"instructions", b.next-1,
		"bytes", len(out),
	)
	return out, nil
}

func (g *Generator) move(b *builder, c Coordinate, comment string) error {
	line, err := FormatCoordinate(g.holeFormat, c)
	if err != nil {
		return err
	}
	b.instruction(g.inline(line, comment))
	return nil
}

// inline appends " ; comment" when verbose comments are on.
func (g *Generator) inline(command, comment string) string {
	if comment == "" || !g.verboseComments {
		return command + "\n"
	}
	return command + " ; " + comment + "\n"
}

func (g *Generator) commands(cmds ...[2]string) string {
	var sb strings.Builder
	for _, c := range cmds {
		sb.WriteString(g.inline(c[0], c[1]))
	}
	return sb.String()
}

func commentLine(text string) string {
	return "; " + text + "\n"
}

func terminate(s string) string {
	if s != "" && !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// Assemble joins edited prefix, body and postfix text into one program,
// inserting a newline where a part does not end with one.
func Assemble(prefix, body, postfix string) string {
	var sb strings.Builder
	for _, part := range []string{prefix, body} {
		sb.WriteString(terminate(strings.ReplaceAll(part, "\r\n", "\n")))
	}
	sb.WriteString(strings.ReplaceAll(postfix, "\r\n", "\n"))
	return sb.String()
}
