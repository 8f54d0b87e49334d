package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/faceattend/faceattend/internal/store"
)

func writeConfig(t *testing.T, mutate func(cfg *config.Config)) string {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "faceattend.db")
	cfg.Logging.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(dir, "faceattend.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFlatPNG(t *testing.T, dir string) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}

	path := filepath.Join(dir, "flat.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
	return path
}

func TestCheckCommandJSON(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	dir := t.TempDir()

	flat := writeFlatPNG(t, dir)
	garbage := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(garbage, []byte("not an image"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	missing := filepath.Join(dir, "missing.png")

	out, err := run(t, "--config", cfgPath, "check", "--json", "--progress=false", flat, garbage, missing)
	if err == nil {
		t.Fatal("Expected an error when images are not live")
	}
	if !strings.Contains(err.Error(), "3 of 3") {
		t.Errorf("Expected '3 of 3' in error, got %v", err)
	}

	var results []fileResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("Failed to decode output: %v\n%s", err, out)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	t.Run("FlatImage", func(t *testing.T) {
		r := results[0]
		if r.File != flat || r.Result == nil {
			t.Fatalf("Unexpected result %+v", r)
		}
		if r.Result.IsLive {
			t.Error("Expected a flat image to fail")
		}
		if r.Result.Features == nil {
			t.Error("Expected features for a decodable image")
		}
		if len(r.Result.Reasons) == 0 {
			t.Error("Expected reasons")
		}
	})

	t.Run("Undecodable", func(t *testing.T) {
		r := results[1]
		if r.Result == nil {
			t.Fatalf("Expected a verdict, got error %q", r.Error)
		}
		if r.Result.LivenessScore == nil || *r.Result.LivenessScore != 0 {
			t.Errorf("Expected score 0, got %v", r.Result.LivenessScore)
		}
		if r.Result.Features != nil {
			t.Error("Expected no features")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		r := results[2]
		if r.Result != nil || r.Error == "" {
			t.Errorf("Expected a read error, got %+v", r)
		}
	})
}

func TestCheckCommandTable(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	flat := writeFlatPNG(t, t.TempDir())

	out, _ := run(t, "--config", cfgPath, "check", "--progress=false", flat)
	if !strings.Contains(out, "FILE") || !strings.Contains(out, "flat.png") {
		t.Errorf("Expected a results table, got:\n%s", out)
	}
}

func TestCheckCommandDisabled(t *testing.T) {
	cfgPath := writeConfig(t, func(cfg *config.Config) { cfg.Liveness.Enabled = false })
	flat := writeFlatPNG(t, t.TempDir())

	out, err := run(t, "--config", cfgPath, "check", "--json", "--progress=false", flat)
	if err != nil {
		t.Fatalf("Expected skipped checks to pass, got %v", err)
	}

	var results []fileResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}
	if len(results) != 1 || results[0].Result == nil || !results[0].Result.Skipped {
		t.Fatalf("Expected one skipped result, got %+v", results)
	}
	if results[0].Result.LivenessScore != nil {
		t.Error("Expected no score for a skipped check")
	}
}

func TestCheckRecordAndHistory(t *testing.T) {
	cfgPath := writeConfig(t, nil)
	flat := writeFlatPNG(t, t.TempDir())

	if _, err := run(t, "--config", cfgPath, "check", "--record", "--progress=false", flat); err == nil {
		t.Fatal("Expected the flat image to fail")
	}

	out, err := run(t, "--config", cfgPath, "history", "--json")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	var history struct {
		Checks []store.Check `json:"checks"`
		Stats  store.Stats   `json:"stats"`
	}
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(history.Checks) != 1 {
		t.Fatalf("Expected 1 check, got %d", len(history.Checks))
	}
	if history.Checks[0].Source != flat {
		t.Errorf("Expected source %q, got %q", flat, history.Checks[0].Source)
	}
	if history.Stats.Total != 1 || history.Stats.Spoof != 1 {
		t.Errorf("Expected 1 spoof, got %+v", history.Stats)
	}

	out, err = run(t, "--config", cfgPath, "history")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if !strings.Contains(out, "Total checks: 1") {
		t.Errorf("Expected totals in output, got:\n%s", out)
	}
}

func TestConfigCommands(t *testing.T) {
	t.Run("Show", func(t *testing.T) {
		cfgPath := writeConfig(t, nil)
		out, err := run(t, "--config", cfgPath, "config", "show")
		if err != nil {
			t.Fatalf("Config show failed: %v", err)
		}
		if !strings.Contains(out, "liveness_threshold: 0.6") {
			t.Errorf("Expected liveness threshold in output, got:\n%s", out)
		}
	})

	t.Run("Init", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "faceattend.yaml")

		if _, err := run(t, "config", "init", path); err != nil {
			t.Fatalf("Config init failed: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("Expected config file to exist: %v", err)
		}

		if _, err := run(t, "config", "init", path); err == nil {
			t.Error("Expected error when the file exists")
		}
		if _, err := run(t, "config", "init", "--force", path); err != nil {
			t.Errorf("Expected --force to overwrite, got %v", err)
		}
	})
}

func TestInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, func(cfg *config.Config) { cfg.Liveness.LivenessThreshold = 3 })

	if _, err := run(t, "--config", cfgPath, "config", "show"); err == nil {
		t.Error("Expected an invalid configuration to be rejected")
	}
}
