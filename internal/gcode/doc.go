// Package gcode renders drill toolpaths as numbered G-code programs.
//
// A Generator owns five ordered text regions:
//
//	prefix            machine setup (metric, absolute, home, spindle on)
//	prefix comments   comments added before any hole was set
//	body              pre-drill seeks, holes, post-drill seeks
//	postfix comments  comments added after holes were set
//	postfix           machine teardown (spindle off, home, absolute)
//
// Generate assembles the regions into one program and caches the text between
// the prefix and the postfix as the body, so a UI can edit the body and
// reassemble it with Assemble. Generate is repeatable: calling it twice
// without mutation yields identical output.
//
// Line numbering (N001, N002, ...) restarts at 1 on every Generate and skips
// standalone comment lines and the "%" program marker.
package gcode
