package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbdrill/pcb-drill/internal/api"
	"github.com/pcbdrill/pcb-drill/internal/client"
	"github.com/pcbdrill/pcb-drill/internal/dispatch"
	"github.com/pcbdrill/pcb-drill/internal/drill"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/inspect"
	"github.com/pcbdrill/pcb-drill/internal/library"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
	"github.com/pcbdrill/pcb-drill/internal/transport"
)

const apiKey = "e2e-test-key-0123456789"

// boardCamera "photographs" a white board with three dark pads.
type boardCamera struct {
	mu       sync.Mutex
	captures []string
}

func (c *boardCamera) Open(context.Context) error         { return nil }
func (c *boardCamera) Configure(drill.Settings) error     { return nil }
func (c *boardCamera) StartPreview(context.Context) error { return nil }
func (c *boardCamera) StopPreview(context.Context) error  { return nil }
func (c *boardCamera) Close() error                       { return nil }

func (c *boardCamera) Capture(_ context.Context, path string, width, height int) error {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for _, p := range []image.Point{{10, 10}, {50, 30}, {90, 60}} {
		for dy := 0; dy < 4; dy++ {
			for dx := 0; dx < 4; dx++ {
				img.SetGray(p.X+dx, p.Y+dy, color.Gray{Y: 0})
			}
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	c.mu.Lock()
	c.captures = append(c.captures, filepath.Base(path))
	c.mu.Unlock()
	return f.Close()
}

func (c *boardCamera) taken() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.captures...)
}

type stack struct {
	api    *httptest.Server
	server *api.Server
	images *imagestore.Store
	state  *state.Store
	camera *boardCamera
	recs   chan dispatch.Record
}

type recorder chan dispatch.Record

func (r recorder) RecordRequest(_ context.Context, rec dispatch.Record) error {
	r <- rec
	return nil
}

// startStack wires the web API to a worker over a real WebSocket, the way
// `pcb-drill web` and `pcb-drill daemon` run in production.
func startStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	images, err := imagestore.New(filepath.Join(dir, "images"), imagestore.WithLogger(log.Discard()))
	require.NoError(t, err)
	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	st := state.NewStore(db)

	cam := &boardCamera{}
	handler := drill.NewHandler(images, cam, drill.BlobVision{},
		drill.WithState(st),
		drill.WithLogger(log.Discard()),
		drill.WithResolution(120, 90),
	)
	reg, err := dispatch.NewRegistry(handler.Methods()...)
	require.NoError(t, err)

	recs := make(chan dispatch.Record, 16)
	ws := transport.NewWebSocket(log.Discard())
	worker := httptest.NewServer(ws)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = dispatch.NewServer(ws, reg,
			dispatch.WithServerLogger(log.Discard()),
			dispatch.WithRecorder(recorder(recs)),
		).Serve(ctx)
	}()

	lib, err := library.New(filepath.Join(dir, "library"), library.WithLogger(log.Discard()))
	require.NoError(t, err)
	daemon := client.Lazy("ws" + strings.TrimPrefix(worker.URL, "http") + "/rpc")
	srv := api.New(api.Config{APIKey: apiKey, RequestTimeout: 10 * time.Second}, daemon, lib, images,
		api.WithLogger(log.Discard()))
	front := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		front.Close()
		cancel()
		_ = ws.Close()
		worker.Close()
		<-served
		_ = handler.Close()
		_ = db.Close()
	})
	return &stack{api: front, server: srv, images: images, state: st, camera: cam, recs: recs}
}

func (s *stack) command(t *testing.T, name string, args map[string]any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(args)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.api.URL+"/command/"+name, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func TestCaptureProcessGenerate(t *testing.T) {
	s := startStack(t)

	status, env := s.command(t, "capture_image", map[string]any{"filename": "board"})
	require.Equal(t, http.StatusOK, status, env)
	assert.Equal(t, true, env["success"])
	assert.Equal(t, filepath.Join(s.images.Dir(), "board.png"), env["output"])
	assert.Equal(t, []string{"board.png"}, s.camera.taken())

	status, env = s.command(t, "process_solder_mask", map[string]any{"filename": "board", "session": "bench"})
	require.Equal(t, http.StatusOK, status, env)
	out, ok := env["output"].(map[string]any)
	require.True(t, ok, env)
	assert.EqualValues(t, 3, out["count"])
	assert.Contains(t, out["holes"], "(11.5,11.5)")
	assert.Contains(t, out["gcode"], "G21")

	status, env = s.command(t, "generate_gcode", map[string]any{"filename": "board.png"})
	require.Equal(t, http.StatusOK, status, env)
	out = env["output"].(map[string]any)
	assert.Contains(t, out["body"], "Processed 3 drill holes")

	// The worker state now describes the capture.
	report, err := inspect.Gather(context.Background(), s.state, s.images, "board")
	require.NoError(t, err)
	assert.True(t, report.HolesKnown)
	assert.Len(t, report.Holes, 3)
	assert.Equal(t, []string{"bench"}, report.Sessions)
	require.Len(t, report.Artifacts, 1)
	assert.Equal(t, "solder_maskboard.png", report.Artifacts[0].Name)

	for _, want := range []string{"capture_image", "process_solder_mask", "generate_gcode"} {
		select {
		case rec := <-s.recs:
			assert.Equal(t, want, rec.Command)
			assert.True(t, rec.Success, rec.Error)
		case <-time.After(5 * time.Second):
			t.Fatalf("no record for %s", want)
		}
	}
}

func TestFailuresCrossTheWire(t *testing.T) {
	s := startStack(t)

	status, env := s.command(t, "generate_gcode", map[string]any{"filename": "never"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, false, env["success"])
	assert.Contains(t, env["error"], "never.png")

	status, env = s.command(t, "no_such_command", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, false, env["success"])

	status, env = s.command(t, "calibrate_pcb", map[string]any{"pcb_filename": "board"})
	assert.Equal(t, http.StatusBadGateway, status, env)

	var failures int
	for _, ev := range s.server.Events().Since(0) {
		var data api.CommandEvent
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		if !data.Success {
			failures++
		}
	}
	assert.Equal(t, 3, failures)
}

func TestUnauthorizedNeverReachesWorker(t *testing.T) {
	s := startStack(t)

	resp, err := http.Post(s.api.URL+"/command/capture_image", "application/json",
		strings.NewReader(`{"filename":"sneaky"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, s.camera.taken())

	exists, err := s.images.Exists("sneaky")
	require.NoError(t, err)
	assert.False(t, exists)
}
