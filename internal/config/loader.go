package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory path loads
// config.yaml inside it. Files named in the include array are merged over
// the including file, later files winning.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(visited))
	for path := range visited {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefaults loads configPath, or returns validated defaults when the
// path is empty.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		cfg := Defaults()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(configPath)
}

// DiscoverConfigFiles returns the absolute paths of configPath and every
// file it includes, sorted.
func DiscoverConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		scratch := &Config{}
		if err := loadIncludes(scratch, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveConfigPath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for
// non-zero values.
func deepMergeConfig(dst, src *Config) {
	d, s := &dst.Daemon, &src.Daemon
	mergeString(&d.Listen, s.Listen)
	mergeString(&d.ImageStorage, s.ImageStorage)
	mergeString(&d.User, s.User)
	mergeString(&d.Group, s.Group)
	mergeString(&d.LogLevel, s.LogLevel)
	mergeString(&d.LogFormat, s.LogFormat)
	mergeString(&d.PIDFile, s.PIDFile)
	mergeString(&d.StatePath, s.StatePath)
	mergeString(&d.CameraCommand, s.CameraCommand)
	mergeString(&d.CameraPreviewCommand, s.CameraPreviewCommand)
	mergeString(&d.Ops.Listen, s.Ops.Listen)
	if s.Width != 0 {
		d.Width = s.Width
	}
	if s.Height != 0 {
		d.Height = s.Height
	}
	if s.RequestTimeout != 0 {
		d.RequestTimeout = s.RequestTimeout
	}
	if s.ImageRetention != 0 {
		d.ImageRetention = s.ImageRetention
	}
	if s.RequestLogRetention != 0 {
		d.RequestLogRetention = s.RequestLogRetention
	}

	w, sw := &dst.Web, &src.Web
	mergeString(&w.Listen, sw.Listen)
	mergeString(&w.DaemonURL, sw.DaemonURL)
	mergeString(&w.GCodeLibrary, sw.GCodeLibrary)
	mergeString(&w.ImageStorage, sw.ImageStorage)
	mergeString(&w.LogLevel, sw.LogLevel)
	mergeString(&w.LogFormat, sw.LogFormat)
	mergeString(&w.APIKey, sw.APIKey)
	if sw.RequestTimeout != 0 {
		w.RequestTimeout = sw.RequestTimeout
	}

	g, sg := &dst.GCode, &src.GCode
	if sg.LineNumbers {
		g.LineNumbers = true
	}
	if sg.VerboseComments != nil {
		g.VerboseComments = sg.VerboseComments
	}
	mergeString(&g.HoleFormat, sg.HoleFormat)
	mergeString(&g.Prefix, sg.Prefix)
	mergeString(&g.Postfix, sg.Postfix)
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No manifest in this directory, nothing to verify.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: pcb-drill config lock --config %s", basename, dir, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: pcb-drill config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

// applyConfigDefaults fills values not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	d, dd := &cfg.Daemon, defaults.Daemon
	defaultString(&d.Listen, dd.Listen)
	defaultString(&d.ImageStorage, dd.ImageStorage)
	defaultString(&d.LogLevel, dd.LogLevel)
	defaultString(&d.LogFormat, dd.LogFormat)
	defaultString(&d.PIDFile, dd.PIDFile)
	defaultString(&d.StatePath, dd.StatePath)
	defaultString(&d.CameraCommand, dd.CameraCommand)
	defaultString(&d.CameraPreviewCommand, dd.CameraPreviewCommand)
	if d.Width == 0 {
		d.Width = dd.Width
	}
	if d.Height == 0 {
		d.Height = dd.Height
	}
	if d.RequestTimeout == 0 {
		d.RequestTimeout = dd.RequestTimeout
	}
	if d.RequestLogRetention == 0 {
		d.RequestLogRetention = dd.RequestLogRetention
	}

	w, dw := &cfg.Web, defaults.Web
	defaultString(&w.Listen, dw.Listen)
	defaultString(&w.DaemonURL, dw.DaemonURL)
	defaultString(&w.GCodeLibrary, dw.GCodeLibrary)
	defaultString(&w.ImageStorage, cfg.Daemon.ImageStorage)
	defaultString(&w.LogLevel, dw.LogLevel)
	defaultString(&w.LogFormat, dw.LogFormat)
	if w.RequestTimeout == 0 {
		w.RequestTimeout = dw.RequestTimeout
	}

	if cfg.GCode.VerboseComments == nil {
		cfg.GCode.VerboseComments = defaults.GCode.VerboseComments
	}
	defaultString(&cfg.GCode.HoleFormat, defaults.GCode.HoleFormat)
	return cfg
}

func defaultString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
