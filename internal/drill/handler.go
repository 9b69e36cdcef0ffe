// Package drill implements the commands served by the worker: camera
// capture and preview, solder mask processing, board and printer calibration
// and G-code generation from detected holes.
package drill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pcbdrill/pcb-drill/internal/dispatch"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

const (
	DefaultSession = "default"
	DefaultWidth   = 800
	DefaultHeight  = 600

	// CalibrationHoleCount is the number of holes drilled by the
	// calibrate_printer program.
	CalibrationHoleCount = 3
)

var (
	// ErrNoSolderMask is returned by calibrate_pcb before the session has a
	// processed solder mask.
	ErrNoSolderMask = errors.New("you must process a solder mask image first")
	// ErrNoHoles is returned by generate_gcode for an image that was never
	// processed.
	ErrNoHoles = errors.New("no drill holes processed for image")
)

// GCodeSettings shape the programs produced by generate_gcode.
type GCodeSettings struct {
	HoleFormat      string
	VerboseComments bool
	// Prefix and Postfix replace the standard blocks when a request does
	// not supply its own.
	Prefix  string
	Postfix string
}

// Handler owns the camera and the per-file state. Its methods are invoked by
// the serial dispatch loop, one at a time.
type Handler struct {
	store  *imagestore.Store
	camera Camera
	vision Vision
	state  State
	gcode  GCodeSettings
	width  int
	height int
	logger *slog.Logger
	now    func() time.Time

	cameraOpen bool
	previewing bool
}

// Option configures a Handler.
type Option func(*Handler)

func WithState(s State) Option { return func(h *Handler) { h.state = s } }

func WithGCode(s GCodeSettings) Option { return func(h *Handler) { h.gcode = s } }

func WithLogger(l *slog.Logger) Option { return func(h *Handler) { h.logger = l } }

// WithResolution sets the capture size used when a request names none.
func WithResolution(width, height int) Option {
	return func(h *Handler) { h.width, h.height = width, height }
}

func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// NewHandler creates a handler storing images in store.
func NewHandler(store *imagestore.Store, camera Camera, vision Vision, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		camera: camera,
		vision: vision,
		gcode:  GCodeSettings{HoleFormat: gcode.DefaultHoleFormat, VerboseComments: true},
		width:  DefaultWidth,
		height: DefaultHeight,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.state == nil {
		h.state = NewMemoryState()
	}
	if h.width <= 0 || h.height <= 0 {
		h.width, h.height = DefaultWidth, DefaultHeight
	}
	if h.gcode.HoleFormat == "" {
		h.gcode.HoleFormat = gcode.DefaultHoleFormat
	}
	if h.logger == nil {
		h.logger = log.WithComponent("drill")
	}
	return h
}

// Methods returns the command table served by the worker.
func (h *Handler) Methods() []dispatch.Method {
	var methods []dispatch.Method
	methods = []dispatch.Method{
		{Name: "capture_image", Summary: "capture a still into image storage", Func: h.captureImage},
		{Name: "start_preview", Summary: "start the camera preview", Func: h.startPreview},
		{Name: "stop_preview", Summary: "stop the camera preview and release the camera", Func: h.stopPreview},
		{Name: "process_solder_mask", Summary: "find drill holes in a solder mask image", Func: h.processSolderMask},
		{Name: "generate_gcode", Summary: "build a drilling program for a processed image", Func: h.generateGCode},
		{Name: "calibrate_pcb", Summary: "locate the board on the bed", Func: h.calibratePCB},
		{Name: "calibrate_printer", Summary: "compare photos taken before and after the calibration holes", Func: h.calibratePrinter},
		{Name: "commands", Summary: "list the available commands", Func: func(context.Context, protocol.Args) (any, error) {
			names := make([]string, len(methods))
			for i, m := range methods {
				names[i] = m.Name
			}
			sort.Strings(names)
			return names, nil
		}},
	}
	return methods
}

// Close releases the camera.
func (h *Handler) Close() error {
	if !h.cameraOpen {
		return nil
	}
	h.previewing = false
	h.cameraOpen = false
	return h.camera.Close()
}

func (h *Handler) initializeCamera(ctx context.Context) error {
	if h.previewing {
		if err := h.endPreview(ctx); err != nil {
			return err
		}
	}
	if !h.cameraOpen {
		if err := h.camera.Open(ctx); err != nil {
			return fmt.Errorf("open camera: %w", err)
		}
		h.cameraOpen = true
	}
	if err := h.camera.Configure(DefaultSettings); err != nil {
		return fmt.Errorf("configure camera: %w", err)
	}
	return nil
}

func (h *Handler) endPreview(ctx context.Context) error {
	if !h.cameraOpen || !h.previewing {
		return nil
	}
	h.logger.Info("stopping preview")
	h.previewing = false
	if err := h.camera.StopPreview(ctx); err != nil {
		return fmt.Errorf("stop preview: %w", err)
	}
	h.cameraOpen = false
	if err := h.camera.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	return nil
}

func (h *Handler) captureImage(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only("filename", "width", "height"); err != nil {
		return nil, err
	}
	filename, err := args.String("filename")
	if err != nil {
		return nil, err
	}
	width, err := args.Int("width", h.width)
	if err != nil {
		return nil, err
	}
	height, err := args.Int("height", h.height)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid resolution %dx%d", width, height)
	}

	path, err := h.store.Path(filename)
	if err != nil {
		return nil, err
	}
	if err := h.initializeCamera(ctx); err != nil {
		return nil, err
	}
	if err := h.camera.Capture(ctx, path, width, height); err != nil {
		return nil, fmt.Errorf("capture %s: %w", filepath.Base(path), err)
	}
	if err := h.store.Finalize(path); err != nil {
		return nil, err
	}

	h.logger.Info("image captured", "path", path, "width", width, "height", height)
	return path, nil
}

func (h *Handler) startPreview(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only(); err != nil {
		return nil, err
	}
	if err := h.initializeCamera(ctx); err != nil {
		return nil, err
	}
	if !h.previewing {
		h.logger.Info("starting preview")
		if err := h.camera.StartPreview(ctx); err != nil {
			return nil, fmt.Errorf("start preview: %w", err)
		}
		h.previewing = true
	}
	return nil, nil
}

func (h *Handler) stopPreview(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only(); err != nil {
		return nil, err
	}
	return nil, h.endPreview(ctx)
}

func (h *Handler) processSolderMask(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only("filename", "session"); err != nil {
		return nil, err
	}
	filename, err := args.String("filename")
	if err != nil {
		return nil, err
	}
	session, err := args.StringOr("session", DefaultSession)
	if err != nil {
		return nil, err
	}

	name, src, err := h.existing(filename)
	if err != nil {
		return nil, err
	}
	annotated, err := h.store.Path("solder_mask" + name)
	if err != nil {
		return nil, err
	}

	blobs, err := h.vision.SolderMask(ctx, src, annotated)
	if err != nil {
		return nil, fmt.Errorf("process solder mask %s: %w", name, err)
	}
	if err := h.store.Finalize(annotated); err != nil {
		return nil, err
	}

	holes := make([]gcode.Coordinate, len(blobs))
	lines := make([]string, len(blobs))
	for i, b := range blobs {
		holes[i] = b.Center()
		lines[i] = holes[i].String()
	}
	if err := h.state.SaveSolderMask(ctx, session, name); err != nil {
		return nil, fmt.Errorf("save solder mask: %w", err)
	}
	if err := h.state.SaveHoles(ctx, name, holes); err != nil {
		return nil, fmt.Errorf("save holes: %w", err)
	}
	h.logger.Info("solder mask processed", "image", name, "session", session, "holes", len(holes))

	out := map[string]any{
		"count":                   len(blobs),
		"cv_solder_mask_filename": annotated,
		"holes":                   strings.Join(lines, "\n"),
	}
	program, err := h.program(ctx, name, "", "")
	if err != nil {
		return nil, err
	}
	for k, v := range program {
		out[k] = v
	}
	return out, nil
}

func (h *Handler) generateGCode(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only("filename", "prefix", "postfix"); err != nil {
		return nil, err
	}
	filename, err := args.String("filename")
	if err != nil {
		return nil, err
	}
	prefix, err := args.StringOr("prefix", "")
	if err != nil {
		return nil, err
	}
	postfix, err := args.StringOr("postfix", "")
	if err != nil {
		return nil, err
	}
	name, err := imagestore.Name(filename)
	if err != nil {
		return nil, err
	}
	return h.program(ctx, name, prefix, postfix)
}

// program renders the cached holes of image into a drilling program.
func (h *Handler) program(ctx context.Context, image, prefix, postfix string) (map[string]any, error) {
	holes, ok, err := h.state.Holes(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("load holes: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHoles, image)
	}

	if prefix == "" {
		prefix = h.gcode.Prefix
	}
	if postfix == "" {
		postfix = h.gcode.Postfix
	}
	g := gcode.New(
		gcode.WithPrefix(prefix),
		gcode.WithPostfix(postfix),
		gcode.WithLineNumbers(false),
		gcode.WithVerboseComments(h.gcode.VerboseComments),
		gcode.WithHoleFormat(h.gcode.HoleFormat),
		gcode.WithLogger(h.logger),
	)
	g.AddComment("Generated from pcb-drilld at " + h.now().Format(time.ANSIC))
	g.SetHoles(holes)
	g.AddComment(fmt.Sprintf("Processed %d drill holes", len(holes)))

	program, err := g.Generate()
	if err != nil {
		return nil, err
	}
	body, err := g.Body()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"prefix":  g.Prefix(),
		"postfix": g.Postfix(),
		"body":    body,
		"gcode":   program,
	}, nil
}

func (h *Handler) calibratePCB(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only("pcb_filename", "session"); err != nil {
		return nil, err
	}
	filename, err := args.String("pcb_filename")
	if err != nil {
		return nil, err
	}
	session, err := args.StringOr("session", DefaultSession)
	if err != nil {
		return nil, err
	}

	name, pcb, err := h.existing(filename)
	if err != nil {
		return nil, err
	}
	maskName, ok, err := h.state.SolderMask(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("load solder mask: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (session %q)", ErrNoSolderMask, session)
	}
	mask, err := h.store.Path(maskName)
	if err != nil {
		return nil, err
	}

	outputs := map[string]string{
		"pcb_cropped_filename": "crop_pcb_" + name,
		"cv_image":             "cv_" + name,
		"cv_keypoint_filename": "cv_keypoint_" + name,
	}
	paths := make(map[string]string, len(outputs))
	for key, out := range outputs {
		if paths[key], err = h.store.Path(out); err != nil {
			return nil, err
		}
	}

	match, err := h.vision.MatchBoard(ctx, BoardRequest{
		PCB:        pcb,
		SolderMask: mask,
		Cropped:    paths["pcb_cropped_filename"],
		Annotated:  paths["cv_image"],
		Keypoints:  paths["cv_keypoint_filename"],
	})
	if err != nil {
		return nil, fmt.Errorf("locate board %s: %w", name, err)
	}
	for _, key := range []string{"pcb_cropped_filename", "cv_keypoint_filename", "cv_image"} {
		if err := h.store.Finalize(paths[key]); err != nil {
			return nil, err
		}
	}
	h.logger.Info("board located", "image", name, "session", session, "holes", match.Count, "angle", match.Angle)

	return map[string]any{
		"pcb_cropped_filename": outputs["pcb_cropped_filename"],
		"count":                match.Count,
		"angle":                match.Angle,
		"cv_keypoint_filename": outputs["cv_keypoint_filename"],
		"cv_image":             outputs["cv_image"],
	}, nil
}

func (h *Handler) calibratePrinter(ctx context.Context, args protocol.Args) (any, error) {
	if err := args.Only("pre_drill_filename", "post_drill_filename"); err != nil {
		return nil, err
	}
	preName, err := args.String("pre_drill_filename")
	if err != nil {
		return nil, err
	}
	postName, err := args.String("post_drill_filename")
	if err != nil {
		return nil, err
	}

	_, pre, err := h.existing(preName)
	if err != nil {
		return nil, err
	}
	post, postPath, err := h.existing(postName)
	if err != nil {
		return nil, err
	}
	diffName := "diff_" + post
	diffPath, err := h.store.Path(diffName)
	if err != nil {
		return nil, err
	}

	blobs, err := h.vision.Difference(ctx, pre, postPath, diffPath)
	if err != nil {
		return nil, fmt.Errorf("difference %s: %w", post, err)
	}
	for i, b := range blobs {
		h.logger.Debug("calibration blob", "index", i, "x", b.X, "y", b.Y)
	}
	if err := h.store.Finalize(diffPath); err != nil {
		return nil, err
	}

	out := map[string]any{
		"cv_image_filename": diffName,
		"cv_image_fullname": diffPath,
		"count":             len(blobs),
	}
	if len(blobs) != CalibrationHoleCount {
		warning := fmt.Sprintf("Unable to calibrate image since it has %d differences between images", len(blobs))
		h.logger.Warn("printer calibration incomplete", "differences", len(blobs))
		out["warning"] = warning
	}
	return out, nil
}

// existing resolves filename and checks that it is in the store.
func (h *Handler) existing(filename string) (name, path string, err error) {
	name, err = imagestore.Name(filename)
	if err != nil {
		return "", "", err
	}
	path, err = h.store.Path(name)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", "", fmt.Errorf("image %s: %w", name, err)
	}
	return name, path, nil
}
