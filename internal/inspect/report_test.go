package inspect

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pcbdrill/pcb-drill/internal/gcode"
	"github.com/pcbdrill/pcb-drill/internal/imagestore"
	"github.com/pcbdrill/pcb-drill/internal/log"
	"github.com/pcbdrill/pcb-drill/internal/state"
	"github.com/pcbdrill/pcb-drill/internal/storage"
)

func setup(t *testing.T) (*state.Store, *imagestore.Store) {
	t.Helper()

	tmpDir := t.TempDir()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(tmpDir, "state.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	images, err := imagestore.New(filepath.Join(tmpDir, "images"), imagestore.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("imagestore.New: %v", err)
	}
	return state.NewStore(db), images
}

func writeImage(t *testing.T, images *imagestore.Store, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(images.Dir(), name), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
}

func TestBuildReportRendersHolesSessionsAndArtifacts(t *testing.T) {
	t.Parallel()

	st, images := setup(t)
	ctx := context.Background()

	writeImage(t, images, "mask.png", "mask")
	writeImage(t, images, "solder_maskmask.png", "annotated")
	writeImage(t, images, "unrelated.png", "x")
	if err := st.SaveHoles(ctx, "mask.png", []gcode.Coordinate{{X: 10, Y: 20}, {X: 30.5, Y: 40}}); err != nil {
		t.Fatalf("SaveHoles: %v", err)
	}
	if err := st.SaveSolderMask(ctx, "bench", "mask.png"); err != nil {
		t.Fatalf("SaveSolderMask: %v", err)
	}

	out, err := BuildReport(ctx, st, images, "mask")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, needle := range []string{
		"Image Report",
		"Image       : mask.png",
		"Size        : 4 bytes",
		"Sessions    : bench",
		"holes       : 2",
		"solder_maskmask.png (process_solder_mask, 9 bytes)",
	} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}
	if strings.Contains(out, "unrelated.png") {
		t.Fatalf("unrelated image listed:\n%s", out)
	}
}

func TestBuildReportMissingImage(t *testing.T) {
	t.Parallel()

	st, images := setup(t)
	out, err := BuildReport(context.Background(), st, images, "ghost.png")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	for _, needle := range []string{"<missing>", "<not processed>", "artifacts   : <none>", "Sessions    : <none>"} {
		if !strings.Contains(out, needle) {
			t.Fatalf("output missing %q:\n%s", needle, out)
		}
	}
}

func TestBuildReportRejectsBadNames(t *testing.T) {
	t.Parallel()

	st, images := setup(t)
	for _, name := range []string{"", "  ", "../etc/passwd"} {
		if _, err := BuildReport(context.Background(), st, images, name); err == nil {
			t.Errorf("BuildReport(%q) expected error", name)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()

	st, images := setup(t)
	ctx := context.Background()
	writeImage(t, images, "board.png", "pcb")
	writeImage(t, images, "cv_board.png", "cv")
	writeImage(t, images, "cv_keypoint_board.png", "kp")
	writeImage(t, images, "crop_pcb_board.png", "crop")
	if err := st.SaveHoles(ctx, "board.png", nil); err != nil {
		t.Fatalf("SaveHoles: %v", err)
	}

	out, err := BuildJSONReport(ctx, st, images, "board.png")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("failed to unmarshal JSON output: %v", err)
	}
	if report.Image != "board.png" || !report.Present {
		t.Errorf("image = %s present = %v", report.Image, report.Present)
	}
	if !report.HolesKnown || len(report.Holes) != 0 {
		t.Errorf("holes_known = %v holes = %v", report.HolesKnown, report.Holes)
	}
	var names []string
	for _, a := range report.Artifacts {
		names = append(names, a.Name)
		if a.Command != "process_pcb" {
			t.Errorf("artifact %s command = %s", a.Name, a.Command)
		}
	}
	if got := strings.Join(names, ","); got != "crop_pcb_board.png,cv_board.png,cv_keypoint_board.png" {
		t.Errorf("artifacts = %s", got)
	}
}

func TestGatherWithoutState(t *testing.T) {
	t.Parallel()

	_, images := setup(t)
	writeImage(t, images, "diff_post.png", "d")
	writeImage(t, images, "post.png", "p")

	report, err := Gather(context.Background(), nil, images, "post")
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if report.HolesKnown {
		t.Errorf("holes_known without state")
	}
	if len(report.Artifacts) != 1 || report.Artifacts[0].Command != "calibrate_printer" {
		t.Errorf("artifacts = %+v", report.Artifacts)
	}
}
