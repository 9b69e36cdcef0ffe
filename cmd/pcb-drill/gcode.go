package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/library"
)

type gcodeFlags struct {
	lineNumbers bool
	verbose     bool
	holeFormat  string
	output      string
}

func (f *gcodeFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.lineNumbers, "line-numbers", false, "prefix lines with N<n> (default gcode.line_numbers)")
	cmd.Flags().BoolVar(&f.verbose, "verbose-comments", true, "emit section comments (default gcode.verbose_comments)")
	cmd.Flags().StringVar(&f.holeFormat, "hole-format", "", "printf format for one hole (default gcode.hole_format)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "-", "write the program here ('-' for stdout)")
}

// options merges explicit flags over the config's generator settings.
func (f *gcodeFlags) options(cmd *cobra.Command, opts *rootOptions) ([]gcode.Option, config.GCodeConfig, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, config.GCodeConfig{}, err
	}
	g := cfg.GCode
	if cmd.Flags().Changed("line-numbers") {
		g.LineNumbers = f.lineNumbers
	}
	if cmd.Flags().Changed("verbose-comments") {
		verbose := f.verbose
		g.VerboseComments = &verbose
	}
	if f.holeFormat != "" {
		g.HoleFormat = f.holeFormat
	}
	return presetOptions(g), g, nil
}

func (f *gcodeFlags) write(opts *rootOptions, program string) error {
	if f.output == "-" {
		_, err := io.WriteString(opts.stdout, program)
		return err
	}
	return os.WriteFile(f.output, []byte(program), 0o644)
}

func newGCodeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gcode",
		Short: "Render drill programs offline",
	}
	cmd.AddCommand(
		newPresetCommand(opts, "calibrate", "calibrate_printer.gcode", "Drill the three calibration holes"),
		newPresetCommand(opts, "eject", "eject_bed.gcode", "Move the bed out to the loading position"),
		newPresetCommand(opts, "retract", "retract_bed.gcode", "Move the bed back under the spindle"),
		newGenerateCommand(opts),
	)
	return cmd
}

func newPresetCommand(opts *rootOptions, use, preset, short string) *cobra.Command {
	var flags gcodeFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			genOpts, _, err := flags.options(cmd, opts)
			if err != nil {
				return err
			}
			program, err := library.Render(preset, genOpts...)
			if err != nil {
				return err
			}
			return flags.write(opts, program)
		},
	}
	flags.register(cmd)
	return cmd
}

func newGenerateCommand(opts *rootOptions) *cobra.Command {
	var flags gcodeFlags
	var holesFile, prefixFile, postfixFile string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build a drill program from a list of holes",
		Long: `Build a drill program from holes read one per line as "x,y" or "(x,y)",
the form process_solder_mask returns. Blank lines and lines starting with
# are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			genOpts, g, err := flags.options(cmd, opts)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if holesFile != "-" {
				f, err := os.Open(holesFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			holes, err := readHoles(in)
			if err != nil {
				return err
			}

			prefix, postfix := g.Prefix, g.Postfix
			if prefixFile != "" {
				data, err := os.ReadFile(prefixFile)
				if err != nil {
					return err
				}
				prefix = string(data)
			}
			if postfixFile != "" {
				data, err := os.ReadFile(postfixFile)
				if err != nil {
					return err
				}
				postfix = string(data)
			}
			genOpts = append(genOpts, gcode.WithPrefix(prefix), gcode.WithPostfix(postfix))

			gen := gcode.New(genOpts...)
			gen.AddComment(fmt.Sprintf("Processed %d drill holes", len(holes)))
			gen.SetHoles(holes)
			program, err := gen.Generate()
			if err != nil {
				return err
			}
			return flags.write(opts, program)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&holesFile, "holes", "-", "file of holes ('-' for stdin)")
	cmd.Flags().StringVar(&prefixFile, "prefix", "", "file replacing the setup block (default gcode.prefix)")
	cmd.Flags().StringVar(&postfixFile, "postfix", "", "file replacing the shutdown block (default gcode.postfix)")
	return cmd
}

func readHoles(r io.Reader) ([]gcode.Coordinate, error) {
	var holes []gcode.Coordinate
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c, err := gcode.ParseCoordinate(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		holes = append(holes, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return holes, nil
}
