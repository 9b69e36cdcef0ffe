package drill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pcbdrill/pcb-drill/internal/log"
)

// Default command templates for a Raspberry Pi camera.
const (
	DefaultCaptureCommand = "raspistill -w {width} -h {height} -o {output} -t 5 -awb {awb} -co {contrast} -x IFD0.Artist={artist}"
	DefaultPreviewCommand = "raspistill -t 0 -awb {awb} -co {contrast}"
)

var errCameraClosed = errors.New("camera is not open")

// CommandCamera drives an external capture program. Each template argument
// may contain the placeholders {output}, {width}, {height}, {awb},
// {contrast} and {artist}.
type CommandCamera struct {
	capture []string
	preview []string
	logger  *slog.Logger

	mu       sync.Mutex
	open     bool
	settings Settings
	running  *exec.Cmd
}

var _ Camera = (*CommandCamera)(nil)

// NewCommandCamera creates a camera from capture and preview templates. An
// empty template selects the default.
func NewCommandCamera(captureTemplate, previewTemplate string, logger *slog.Logger) *CommandCamera {
	if strings.TrimSpace(captureTemplate) == "" {
		captureTemplate = DefaultCaptureCommand
	}
	if strings.TrimSpace(previewTemplate) == "" {
		previewTemplate = DefaultPreviewCommand
	}
	if logger == nil {
		logger = log.WithComponent("camera")
	}
	return &CommandCamera{
		capture:  strings.Fields(captureTemplate),
		preview:  strings.Fields(previewTemplate),
		logger:   logger,
		settings: DefaultSettings,
	}
}

func (c *CommandCamera) Open(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := exec.LookPath(c.capture[0]); err != nil {
		return fmt.Errorf("camera command: %w", err)
	}
	c.open = true
	return nil
}

func (c *CommandCamera) Configure(s Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errCameraClosed
	}
	c.settings = s
	return nil
}

func (c *CommandCamera) Capture(ctx context.Context, path string, width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errCameraClosed
	}

	args := c.expand(c.capture, map[string]string{
		"output": path,
		"width":  strconv.Itoa(width),
		"height": strconv.Itoa(height),
	})
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("capture with %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	c.logger.Debug("captured image", "path", path, "width", width, "height", height)
	return nil
}

func (c *CommandCamera) StartPreview(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return errCameraClosed
	}
	if c.running != nil {
		return nil
	}

	args := c.expand(c.preview, nil)
	// The preview outlives the request that started it.
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start preview: %w", err)
	}
	c.running = cmd
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (c *CommandCamera) StopPreview(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopPreviewLocked()
}

func (c *CommandCamera) stopPreviewLocked() error {
	if c.running == nil {
		return nil
	}
	err := c.running.Process.Kill()
	c.running = nil
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop preview: %w", err)
	}
	return nil
}

func (c *CommandCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.stopPreviewLocked()
	c.open = false
	return err
}

func (c *CommandCamera) expand(template []string, extra map[string]string) []string {
	values := map[string]string{
		"awb":      c.settings.AWBMode,
		"contrast": strconv.Itoa(c.settings.Contrast),
		"artist":   c.settings.Artist,
	}
	for k, v := range extra {
		values[k] = v
	}

	pairs := make([]string, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = r.Replace(arg)
	}
	return out
}
