package gcode

import "sort"

// CalibrationHoles are the three holes drilled to calibrate the machine.
var CalibrationHoles = []Coordinate{C(0, 0), C(30, 0), C(0, 20)}

// Bed positions used by the eject and retract programs.
var (
	EjectBedPosition   = C(0, 180)
	RetractBedPosition = C(0, 20)
)

// Preset renders a fixed program.
type Preset func(opts ...Option) (string, error)

// CalibratePrinter drills the three calibration holes.
func CalibratePrinter(opts ...Option) (string, error) {
	g := New(opts...)
	g.AddComment("I hope this works")
	g.SetHoles(CalibrationHoles)
	g.AddComment("That should do it")
	return g.Generate()
}

// EjectBed moves the bed out to the loading position.
func EjectBed(opts ...Option) (string, error) {
	g := New(opts...)
	g.AddComment("This will eject the bed")
	g.AddPreDrillSeek(EjectBedPosition)
	return g.Generate()
}

// RetractBed moves the bed back under the spindle.
func RetractBed(opts ...Option) (string, error) {
	g := New(opts...)
	g.AddComment("This will retract the bed")
	g.AddPreDrillSeek(RetractBedPosition)
	return g.Generate()
}

var presets = map[string]Preset{
	"calibrate_printer.gcode": CalibratePrinter,
	"eject_bed.gcode":         EjectBed,
	"retract_bed.gcode":       RetractBed,
}

// LookupPreset returns the preset rendered for a library file name.
func LookupPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the library file names backed by presets.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
