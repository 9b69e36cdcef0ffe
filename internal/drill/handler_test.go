package drill_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbdrill/pcb-drill/internal/dispatch"
	"github.com/pcbdrill/pcb-drill/internal/drill"
	"github.com/pcbdrill/pcb-drill/internal/drill/mocks"
	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
)

var fixedNow = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

type fixture struct {
	camera  *mocks.MockCamera
	vision  *mocks.MockVision
	store   *imagestore.Store
	state   *drill.MemoryState
	handler *drill.Handler
	reg     *dispatch.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	store, err := imagestore.New(t.TempDir(), imagestore.WithLogger(log.Discard()))
	require.NoError(t, err)

	f := &fixture{
		camera: mocks.NewMockCamera(ctrl),
		vision: mocks.NewMockVision(ctrl),
		store:  store,
		state:  drill.NewMemoryState(),
	}
	f.handler = drill.NewHandler(store, f.camera, f.vision,
		drill.WithState(f.state),
		drill.WithLogger(log.Discard()),
		drill.WithClock(func() time.Time { return fixedNow }),
	)
	f.reg, err = dispatch.NewRegistry(f.handler.Methods()...)
	require.NoError(t, err)
	return f
}

func (f *fixture) call(t *testing.T, command string, args protocol.Args) (any, error) {
	t.Helper()
	m, err := f.reg.Lookup(command)
	require.NoError(t, err)
	return m.Func(context.Background(), args)
}

func (f *fixture) image(t *testing.T, name string) string {
	t.Helper()
	path, err := f.store.Path(name)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("image"), 0o600))
	return path
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("output"), 0o600)
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	out, err := f.call(t, "commands", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"calibrate_pcb",
		"calibrate_printer",
		"capture_image",
		"commands",
		"generate_gcode",
		"process_solder_mask",
		"start_preview",
		"stop_preview",
	}, out)
}

func TestCaptureImage(t *testing.T) {
	f := newFixture(t)
	want := filepath.Join(f.store.Dir(), "board.png")

	gomock.InOrder(
		f.camera.EXPECT().Open(gomock.Any()).Return(nil),
		f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil),
		f.camera.EXPECT().Capture(gomock.Any(), want, 1024, 768).
			DoAndReturn(func(_ context.Context, path string, _, _ int) error { return writeFile(path) }),
	)

	out, err := f.call(t, "capture_image", protocol.Args{"filename": "board", "width": "1024", "height": 768.0})
	require.NoError(t, err)
	assert.Equal(t, want, out)

	info, err := os.Stat(want)
	require.NoError(t, err)
	assert.Equal(t, imagestore.FileMode, info.Mode().Perm())

	// camera stays open between captures
	f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil)
	f.camera.EXPECT().Capture(gomock.Any(), filepath.Join(f.store.Dir(), "b.jpg"), drill.DefaultWidth, drill.DefaultHeight).
		DoAndReturn(func(_ context.Context, path string, _, _ int) error { return writeFile(path) })
	_, err = f.call(t, "capture_image", protocol.Args{"filename": "b.jpg"})
	require.NoError(t, err)
}

func TestCaptureImageConfiguredResolution(t *testing.T) {
	f := newFixture(t)
	h := drill.NewHandler(f.store, f.camera, f.vision,
		drill.WithLogger(log.Discard()),
		drill.WithResolution(1640, 1232),
	)
	reg, err := dispatch.NewRegistry(h.Methods()...)
	require.NoError(t, err)
	m, err := reg.Lookup("capture_image")
	require.NoError(t, err)

	f.camera.EXPECT().Open(gomock.Any()).Return(nil)
	f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil)
	f.camera.EXPECT().Capture(gomock.Any(), gomock.Any(), 1640, 1232).
		DoAndReturn(func(_ context.Context, path string, _, _ int) error { return writeFile(path) })

	_, err = m.Func(context.Background(), protocol.Args{"filename": "wide.png"})
	require.NoError(t, err)
}

func TestCaptureImageErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "capture_image", protocol.Args{"filename": "../../etc/passwd"})
	assert.ErrorIs(t, err, imagestore.ErrInvalidName)

	_, err = f.call(t, "capture_image", protocol.Args{"filename": "a", "iso": 100})
	var argErr *protocol.ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "iso", argErr.Key)

	_, err = f.call(t, "capture_image", protocol.Args{"filename": "a", "width": 0})
	assert.Error(t, err)

	f.camera.EXPECT().Open(gomock.Any()).Return(errors.New("no camera"))
	_, err = f.call(t, "capture_image", protocol.Args{"filename": "a"})
	assert.ErrorContains(t, err, "no camera")
}

func TestPreviewLifecycle(t *testing.T) {
	f := newFixture(t)

	// nothing to stop yet
	_, err := f.call(t, "stop_preview", nil)
	require.NoError(t, err)

	gomock.InOrder(
		f.camera.EXPECT().Open(gomock.Any()).Return(nil),
		f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil),
		f.camera.EXPECT().StartPreview(gomock.Any()).Return(nil),
		// capture while previewing stops the preview and reopens
		f.camera.EXPECT().StopPreview(gomock.Any()).Return(nil),
		f.camera.EXPECT().Close().Return(nil),
		f.camera.EXPECT().Open(gomock.Any()).Return(nil),
		f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil),
		f.camera.EXPECT().Capture(gomock.Any(), gomock.Any(), drill.DefaultWidth, drill.DefaultHeight).
			DoAndReturn(func(_ context.Context, path string, _, _ int) error { return writeFile(path) }),
		f.camera.EXPECT().Close().Return(nil),
	)

	_, err = f.call(t, "start_preview", nil)
	require.NoError(t, err)
	_, err = f.call(t, "capture_image", protocol.Args{"filename": "shot"})
	require.NoError(t, err)

	// preview already ended
	_, err = f.call(t, "stop_preview", nil)
	require.NoError(t, err)

	require.NoError(t, f.handler.Close())
	require.NoError(t, f.handler.Close())
}

func TestStartPreviewTwice(t *testing.T) {
	f := newFixture(t)

	f.camera.EXPECT().Open(gomock.Any()).Return(nil)
	f.camera.EXPECT().Configure(drill.DefaultSettings).Return(nil).Times(2)
	f.camera.EXPECT().StartPreview(gomock.Any()).Return(nil)
	f.camera.EXPECT().StopPreview(gomock.Any()).Return(nil).Times(2)
	f.camera.EXPECT().Close().Return(nil).Times(2)
	f.camera.EXPECT().Open(gomock.Any()).Return(nil)
	f.camera.EXPECT().StartPreview(gomock.Any()).Return(nil)

	_, err := f.call(t, "start_preview", nil)
	require.NoError(t, err)
	// a second start restarts the camera, as initialization ends any preview
	_, err = f.call(t, "start_preview", nil)
	require.NoError(t, err)
	_, err = f.call(t, "stop_preview", nil)
	require.NoError(t, err)
}

func TestProcessSolderMask(t *testing.T) {
	f := newFixture(t)
	src := f.image(t, "mask.png")
	annotated := filepath.Join(f.store.Dir(), "solder_maskmask.png")

	f.vision.EXPECT().SolderMask(gomock.Any(), src, annotated).
		DoAndReturn(func(_ context.Context, _, out string) ([]drill.Blob, error) {
			return []drill.Blob{{X: 10, Y: 20, Area: 12}, {X: 30.5, Y: 40, Area: 15}}, writeFile(out)
		})

	out, err := f.call(t, "process_solder_mask", protocol.Args{"filename": "mask", "session": "s1"})
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, 2, m["count"])
	assert.Equal(t, annotated, m["cv_solder_mask_filename"])
	assert.Equal(t, "(10.0,20.0)\n(30.5,40.0)", m["holes"])
	assert.Contains(t, m["gcode"], "G1 X10.0 Y20.0 ; Drill hole location")
	assert.Contains(t, m["body"], "; Generated from pcb-drilld at Fri Jan  2 15:04:05 2026")
	assert.Contains(t, m["body"], "; Processed 2 drill holes")
	assert.NotContains(t, m["gcode"], "N001")
	assert.True(t, strings.HasPrefix(m["gcode"].(string), m["prefix"].(string)))

	mask, ok, err := f.state.SolderMask(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mask.png", mask)

	// cached holes serve later generate_gcode calls, keyed by normalized name
	out, err = f.call(t, "generate_gcode", protocol.Args{"filename": "mask.png", "prefix": "G21", "postfix": "M2"})
	require.NoError(t, err)
	m = out.(map[string]any)
	assert.Equal(t, "G21\n", m["prefix"])
	assert.Equal(t, "M2\n", m["postfix"])
	assert.True(t, strings.HasPrefix(m["gcode"].(string), "G21\n; Generated"))
	assert.True(t, strings.HasSuffix(m["gcode"].(string), "; Processed 2 drill holes\nM2\n"))
}

func TestProcessSolderMaskMissingImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "process_solder_mask", protocol.Args{"filename": "absent"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGenerateGCodeWithoutHoles(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "generate_gcode", protocol.Args{"filename": "never"})
	assert.ErrorIs(t, err, drill.ErrNoHoles)
}

func TestGenerateGCodeSettings(t *testing.T) {
	store, err := imagestore.New(t.TempDir(), imagestore.WithLogger(log.Discard()))
	require.NoError(t, err)
	state := drill.NewMemoryState()
	h := drill.NewHandler(store, nil, nil,
		drill.WithState(state),
		drill.WithLogger(log.Discard()),
		drill.WithGCode(drill.GCodeSettings{HoleFormat: "G0 X%.2f Y%.2f", VerboseComments: false}),
	)
	require.NoError(t, state.SaveHoles(context.Background(), "pcb.png", nil))
	require.NoError(t, state.SaveHoles(context.Background(), "b.png", []gcode.Coordinate{gcode.C(1.5, 2)}))

	reg, err := dispatch.NewRegistry(h.Methods()...)
	require.NoError(t, err)
	m, err := reg.Lookup("generate_gcode")
	require.NoError(t, err)

	out, err := m.Func(context.Background(), protocol.Args{"filename": "b"})
	require.NoError(t, err)
	program := out.(map[string]any)["gcode"].(string)
	assert.Contains(t, program, "G0 X1.50 Y2.00\n")
	assert.NotContains(t, program, "Drill hole location")

	out, err = m.Func(context.Background(), protocol.Args{"filename": "pcb"})
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["body"], "No Drill holes defined")
}

func TestCalibratePCB(t *testing.T) {
	f := newFixture(t)
	pcb := f.image(t, "pcb.jpg")

	_, err := f.call(t, "calibrate_pcb", protocol.Args{"pcb_filename": "pcb.jpg"})
	require.ErrorIs(t, err, drill.ErrNoSolderMask)

	f.image(t, "mask.png")
	require.NoError(t, f.state.SaveSolderMask(context.Background(), drill.DefaultSession, "mask.png"))

	dir := f.store.Dir()
	f.vision.EXPECT().MatchBoard(gomock.Any(), drill.BoardRequest{
		PCB:        pcb,
		SolderMask: filepath.Join(dir, "mask.png"),
		Cropped:    filepath.Join(dir, "crop_pcb_pcb.jpg"),
		Annotated:  filepath.Join(dir, "cv_pcb.jpg"),
		Keypoints:  filepath.Join(dir, "cv_keypoint_pcb.jpg"),
	}).DoAndReturn(func(_ context.Context, req drill.BoardRequest) (drill.BoardMatch, error) {
		for _, p := range []string{req.Cropped, req.Annotated, req.Keypoints} {
			if err := writeFile(p); err != nil {
				return drill.BoardMatch{}, err
			}
		}
		return drill.BoardMatch{Count: 19, Angle: 0.25}, nil
	})

	out, err := f.call(t, "calibrate_pcb", protocol.Args{"pcb_filename": "pcb.jpg"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"pcb_cropped_filename": "crop_pcb_pcb.jpg",
		"count":                19,
		"angle":                0.25,
		"cv_keypoint_filename": "cv_keypoint_pcb.jpg",
		"cv_image":             "cv_pcb.jpg",
	}, out)
}

func TestCalibratePCBUnsupported(t *testing.T) {
	f := newFixture(t)
	f.image(t, "pcb.png")
	f.image(t, "mask.png")
	require.NoError(t, f.state.SaveSolderMask(context.Background(), "other", "mask.png"))

	f.vision.EXPECT().MatchBoard(gomock.Any(), gomock.Any()).
		DoAndReturn(drill.BlobVision{}.MatchBoard)

	_, err := f.call(t, "calibrate_pcb", protocol.Args{"pcb_filename": "pcb", "session": "other"})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestCalibratePrinter(t *testing.T) {
	tests := []struct {
		name        string
		blobs       []drill.Blob
		wantWarning bool
	}{
		{name: "three holes", blobs: make([]drill.Blob, 3)},
		{name: "two holes", blobs: make([]drill.Blob, 2), wantWarning: true},
		{name: "none", blobs: nil, wantWarning: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			pre := f.image(t, "pre.png")
			post := f.image(t, "post.png")
			diff := filepath.Join(f.store.Dir(), "diff_post.png")

			f.vision.EXPECT().Difference(gomock.Any(), pre, post, diff).
				DoAndReturn(func(_ context.Context, _, _, out string) ([]drill.Blob, error) {
					return tt.blobs, writeFile(out)
				})

			out, err := f.call(t, "calibrate_printer", protocol.Args{
				"pre_drill_filename":  "pre",
				"post_drill_filename": "post.png",
			})
			require.NoError(t, err)

			m := out.(map[string]any)
			assert.Equal(t, "diff_post.png", m["cv_image_filename"])
			assert.Equal(t, diff, m["cv_image_fullname"])
			assert.Equal(t, len(tt.blobs), m["count"])
			if tt.wantWarning {
				assert.Contains(t, m["warning"], "differences between images")
			} else {
				assert.NotContains(t, m, "warning")
			}
		})
	}
}
