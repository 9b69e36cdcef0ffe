package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbdrill/pcb-drill/internal/config"
	"github.com/pcbdrill/pcb-drill/internal/dispatch"
	"github.com/pcbdrill/pcb-drill/internal/drill"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/protocol"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
	"github.com/pcbdrill/pcb-drill/internal/transport"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv(configEnv, "")
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "pcb-drill version "+version+"\n", stdout)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestGCodePresets(t *testing.T) {
	code, stdout, stderr := runCLI(t, "gcode", "calibrate")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "G21")
	assert.Contains(t, stdout, "X30.0 Y0.0")
	assert.NotContains(t, stdout, "N001 ", "line numbers follow gcode.line_numbers (off)")

	code, stdout, stderr = runCLI(t, "gcode", "eject", "--line-numbers", "--verbose-comments=false")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "N001 ")
	assert.Contains(t, stdout, "Y180.0")
	assert.NotContains(t, stdout, "Seek pre drill XY location")
}

func TestGCodeUsesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "gcode:\n  line_numbers: true\n  hole_format: \"G0 X%s Y%s\"\n")

	code, stdout, stderr := runCLI(t, "--config", cfgPath, "gcode", "calibrate")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "N001 ")
	assert.Contains(t, stdout, "G0 X30.0 Y0.0")
}

func TestGCodeGenerate(t *testing.T) {
	dir := t.TempDir()
	holes := writeFile(t, dir, "holes.txt", "# from process_solder_mask\n(1.5,2.0)\n\n3,4\n")
	prefix := writeFile(t, dir, "prefix.gcode", "G21\nG90")
	out := filepath.Join(dir, "board.gcode")

	code, _, stderr := runCLI(t, "gcode", "generate", "--holes", holes, "--prefix", prefix, "-o", out)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	program := string(data)
	assert.True(t, strings.HasPrefix(program, "G21\nG90\n"), program)
	assert.Contains(t, program, "Processed 2 drill holes")
	assert.Contains(t, program, "X1.5 Y2.0")
	assert.Contains(t, program, "X3.0 Y4.0")
}

func TestGCodeGenerateBadHole(t *testing.T) {
	holes := writeFile(t, t.TempDir(), "holes.txt", "1,2\nnot a hole\n")
	code, _, stderr := runCLI(t, "gcode", "generate", "--holes", holes)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "line 2")
}

func TestConfigLockAndCheck(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "include:\n  - gcode.yaml\n"+storageYAML(dir))
	writeFile(t, dir, "gcode.yaml", "gcode:\n  line_numbers: true\n")

	code, stdout, stderr := runCLI(t, "--config", dir, "config", "lock", "--dry-run", "-v")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "HASH "+filepath.Join(dir, "gcode.yaml"))
	assert.Contains(t, stdout, "DRY-RUN")
	_, err := os.Stat(filepath.Join(dir, config.ChecksumFile))
	assert.True(t, os.IsNotExist(err))

	code, stdout, stderr = runCLI(t, "--config", dir, "config", "lock")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Locked 2 file(s)")

	code, stdout, stderr = runCLI(t, "--config", cfgPath, "config", "check")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "LOADED "+filepath.Join(dir, "gcode.yaml"))
	assert.Contains(t, stdout, "Configuration valid")

	writeFile(t, dir, "gcode.yaml", "gcode:\n  line_numbers: false\n")
	code, _, stderr = runCLI(t, "--config", cfgPath, "config", "check")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "config verification failed")
}

// storageYAML keeps every path the config names inside dir.
func storageYAML(dir string) string {
	return "daemon:\n" +
		"  image_storage: " + filepath.Join(dir, "images") + "\n" +
		"  state_path: " + filepath.Join(dir, "state.db") + "\n" +
		"  pid_file: " + filepath.Join(dir, "pcb-drilld.pid") + "\n" +
		"web:\n" +
		"  image_storage: " + filepath.Join(dir, "images") + "\n" +
		"  gcode_library: " + filepath.Join(dir, "library") + "\n"
}

func TestConfigCheckReport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", storageYAML(dir)+"  listen: 0.0.0.0:8080\n")

	code, stdout, _ := runCLI(t, "--config", cfgPath, "config", "check", "--json")
	assert.Equal(t, 1, code, "public listener without api_key")
	assert.Contains(t, stdout, `"valid": false`)
	assert.Contains(t, stdout, "web.api_key")

	cfgPath = writeFile(t, dir, "config.yaml", storageYAML(dir))
	code, stdout, _ = runCLI(t, "--config", cfgPath, "config", "check", "--strict")
	assert.Equal(t, 2, code, "the empty api_key warns")
	assert.Contains(t, stdout, "WARN  [api] web.api_key")
}

func TestConfigShowMasksKey(t *testing.T) {
	t.Setenv("PCB_TEST_KEY", "hunter2")
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", "web:\n  api_key: ${PCB_TEST_KEY}\n")

	code, stdout, stderr := runCLI(t, "--config", cfgPath, "config", "show")
	require.Equal(t, 0, code, stderr)
	assert.NotContains(t, stdout, "hunter2")
	assert.Contains(t, stdout, "********")
	assert.Contains(t, stdout, "daemon_url: ws://127.0.0.1:5555/rpc")
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", storageYAML(dir))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "images"), 0o755))
	writeFile(t, filepath.Join(dir, "images"), "mask.png", "mask")
	writeFile(t, filepath.Join(dir, "images"), "solder_maskmask.png", "annotated")

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	st := state.NewStore(db)
	require.NoError(t, st.SaveSolderMask(context.Background(), "default", "mask.png"))
	require.NoError(t, db.Close())

	code, stdout, stderr := runCLI(t, "--config", cfgPath, "inspect", "mask")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Sessions    : default")
	assert.Contains(t, stdout, "solder_maskmask.png")

	code, stdout, stderr = runCLI(t, "--config", cfgPath, "inspect", "mask.png", "--json")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"present": true`)

	code, _, _ = runCLI(t, "--config", cfgPath, "inspect", "../escape")
	assert.NotEqual(t, 0, code)
}

// startWorker serves reg over a real WebSocket and returns its URL.
func startWorker(t *testing.T, methods ...dispatch.Method) string {
	t.Helper()
	reg, err := dispatch.NewRegistry(methods...)
	require.NoError(t, err)

	ws := transport.NewWebSocket(log.Discard())
	srv := httptest.NewServer(ws)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dispatch.NewServer(ws, reg, dispatch.WithServerLogger(log.Discard())).Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = ws.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCall(t *testing.T) {
	url := startWorker(t,
		dispatch.Method{Name: "echo", Func: func(_ context.Context, args protocol.Args) (any, error) {
			return map[string]any{"msg": args["msg"], "n": args["n"]}, nil
		}},
		dispatch.Method{Name: "broken", Func: func(context.Context, protocol.Args) (any, error) {
			return nil, errors.New("camera not found")
		}},
	)

	code, stdout, stderr := runCLI(t, "call", "echo", "msg=hi", "n=3", "--url", url)
	require.Equal(t, 0, code, stderr)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"msg": "hi", "n": float64(3)}, resp.Output)

	code, stdout, _ = runCLI(t, "call", "broken", "--url", url)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "camera not found")

	code, _, stderr = runCLI(t, "call", "echo", "oops", "--url", url)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "want key=value")
}

func TestCallUnreachable(t *testing.T) {
	code, _, stderr := runCLI(t, "call", "commands", "--url", "ws://127.0.0.1:1/rpc", "--timeout", "2s")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "connect to worker")
}

type idleCamera struct{}

func (c *idleCamera) Open(context.Context) error                      { return nil }
func (c *idleCamera) Configure(drill.Settings) error                  { return nil }
func (c *idleCamera) Capture(context.Context, string, int, int) error { return nil }
func (c *idleCamera) StartPreview(context.Context) error              { return nil }
func (c *idleCamera) StopPreview(context.Context) error               { return nil }
func (c *idleCamera) Close() error                                    { return nil }

func TestRunDaemonLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Daemon.Listen = "127.0.0.1:0"
	cfg.Daemon.Ops.Listen = "127.0.0.1:0"
	cfg.Daemon.LogLevel = "error"
	cfg.Daemon.ImageStorage = filepath.Join(dir, "images")
	cfg.Daemon.PIDFile = filepath.Join(dir, "pcb-drilld.pid")
	cfg.Daemon.StatePath = filepath.Join(dir, "state.db")

	camera := &idleCamera{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, cfg, camera) }()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.Daemon.PIDFile)
		return err == nil && len(data) > 0
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Daemon.StatePath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.DirExists(t, cfg.Daemon.ImageStorage)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestRunDaemonSecondInstance(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Daemon.Listen = "127.0.0.1:0"
	cfg.Daemon.LogLevel = "error"
	cfg.Daemon.ImageStorage = filepath.Join(dir, "images")
	cfg.Daemon.PIDFile = filepath.Join(dir, "pcb-drilld.pid")
	cfg.Daemon.StatePath = ""

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, cfg, &idleCamera{}) }()
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cfg.Daemon.PIDFile)
		return err == nil && len(data) > 0
	}, 5*time.Second, 20*time.Millisecond)

	err := runDaemon(context.Background(), cfg, &idleCamera{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another worker is running")

	cancel()
	require.NoError(t, <-done)
}

func TestOpsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "pcbdrill_test_total", Help: "test"}))

	t.Run("without state", func(t *testing.T) {
		srv := httptest.NewServer(opsRouter(reg, nil))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/requests")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, err = http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("request log", func(t *testing.T) {
		db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		defer db.Close()
		store := state.NewStore(db)
		require.NoError(t, store.RecordRequest(context.Background(), dispatch.Record{
			ID: "r1", Command: "capture_image", Success: false, Duration: 1500 * time.Millisecond, Error: "camera busy",
		}))

		srv := httptest.NewServer(opsRouter(reg, store))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/requests?limit=5")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var views []requestView
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
		require.Len(t, views, 1)
		assert.Equal(t, "capture_image", views[0].Command)
		assert.Equal(t, "camera busy", views[0].Error)
		assert.InDelta(t, 1.5, views[0].Duration, 0.001)

		resp2, err := http.Get(srv.URL + "/requests?limit=zero")
		require.NoError(t, err)
		resp2.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
	})
}

func TestReadHoles(t *testing.T) {
	holes, err := readHoles(strings.NewReader("(0.0,0.0)\n  30,0 \n# skip\n"))
	require.NoError(t, err)
	assert.Len(t, holes, 2)
	assert.Equal(t, 30.0, holes[1].X)
}
