package config

import "time"

// Config represents the complete pcb-drill configuration. The daemon and
// the web front end read the same file and each use their own section.
type Config struct {
	Include []string     `yaml:"include,omitempty"`
	Daemon  DaemonConfig `yaml:"daemon"`
	Web     WebConfig    `yaml:"web"`
	GCode   GCodeConfig  `yaml:"gcode"`
}

// DaemonConfig defines the drill worker settings.
type DaemonConfig struct {
	// Listen is the address of the worker's request/response endpoint.
	Listen       string `yaml:"listen"`
	ImageStorage string `yaml:"image_storage"`
	// User and Group own the files the worker writes. Empty keeps the
	// process owner.
	User      string `yaml:"user"`
	Group     string `yaml:"group"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
	// StatePath is the SQLite database holding cached holes. Empty keeps
	// state in memory.
	StatePath            string        `yaml:"state_path"`
	CameraCommand        string        `yaml:"camera_command"`
	CameraPreviewCommand string        `yaml:"camera_preview_command"`
	Width                int           `yaml:"width"`
	Height               int           `yaml:"height"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	// ImageRetention removes stored images older than this. Zero keeps
	// images forever.
	ImageRetention      time.Duration `yaml:"image_retention"`
	RequestLogRetention time.Duration `yaml:"request_log_retention"`
	Ops                 OpsConfig     `yaml:"ops"`
}

// OpsConfig defines the worker's optional metrics listener.
type OpsConfig struct {
	Listen string `yaml:"listen"`
}

// WebConfig defines the front end settings.
type WebConfig struct {
	Listen         string        `yaml:"listen"`
	DaemonURL      string        `yaml:"daemon_url"`
	GCodeLibrary   string        `yaml:"gcode_library"`
	ImageStorage   string        `yaml:"image_storage"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	LogFormat      string        `yaml:"log_format"`
	// APIKey guards every route except /healthz and /metrics. Usually
	// supplied as ${PCB_DRILL_API_KEY}.
	APIKey string `yaml:"api_key,omitempty"`
}

// GCodeConfig shapes generated programs.
type GCodeConfig struct {
	// LineNumbers applies to preset programs. Programs generated from
	// solder masks never carry line numbers.
	LineNumbers     bool   `yaml:"line_numbers"`
	VerboseComments *bool  `yaml:"verbose_comments,omitempty"`
	HoleFormat      string `yaml:"hole_format"`
	Prefix          string `yaml:"prefix"`
	Postfix         string `yaml:"postfix"`
}

// Verbose reports whether inline comments are enabled (default on).
func (g GCodeConfig) Verbose() bool {
	return g.VerboseComments == nil || *g.VerboseComments
}

// Defaults returns a Config with the stock Raspberry Pi layout.
func Defaults() *Config {
	verbose := true
	return &Config{
		Daemon: DaemonConfig{
			Listen:               "127.0.0.1:5555",
			ImageStorage:         "./data/images",
			LogLevel:             "info",
			LogFormat:            "json",
			PIDFile:              "./data/pcb-drilld.pid",
			StatePath:            "./data/state.db",
			CameraCommand:        "raspistill -w {width} -h {height} -o {output} -t 5 -awb {awb} -co {contrast} -x IFD0.Artist={artist}",
			CameraPreviewCommand: "raspistill -t 0 -awb {awb} -co {contrast}",
			Width:                800,
			Height:               600,
			RequestTimeout:       2 * time.Minute,
			RequestLogRetention:  30 * 24 * time.Hour,
		},
		Web: WebConfig{
			Listen:         "127.0.0.1:8080",
			DaemonURL:      "ws://127.0.0.1:5555/rpc",
			GCodeLibrary:   "./data/library",
			ImageStorage:   "./data/images",
			RequestTimeout: 3 * time.Minute,
			LogLevel:       "info",
			LogFormat:      "json",
		},
		GCode: GCodeConfig{
			VerboseComments: &verbose,
			HoleFormat:      "G1 X%s Y%s",
		},
	}
}
