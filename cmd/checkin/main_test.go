package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-checkin/internal/config"
	"github.com/teslashibe/go-checkin/pkg/payload"
	"github.com/teslashibe/go-checkin/pkg/scan"
)

func TestPrintResult(t *testing.T) {
	r := scan.Result{
		ID:        "r1",
		Payload:   "https://gatherly.app/e/42",
		Format:    "QR_CODE",
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	class := payload.Classify(r.Payload)

	var text bytes.Buffer
	if err := printResult(&text, r, class, false); err != nil {
		t.Fatal(err)
	}
	if want := "https://gatherly.app/e/42\nlink(https://gatherly.app/e/42)\n"; text.String() != want {
		t.Errorf("text output = %q, want %q", text.String(), want)
	}

	var js bytes.Buffer
	if err := printResult(&js, r, class, true); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(js.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["kind"] != "link" || got["id"] != "r1" || got["link"] != r.Payload {
		t.Errorf("unexpected JSON %s", js.String())
	}
}

func TestClassificationJSON(t *testing.T) {
	tests := []struct {
		payload string
		want    map[string]string
	}{
		{"booth-42", map[string]string{"kind": "text", "payload": "booth-42"}},
		{"https://gatherly.app", map[string]string{"kind": "link", "payload": "https://gatherly.app", "link": "https://gatherly.app"}},
	}
	for _, tc := range tests {
		t.Run(tc.payload, func(t *testing.T) {
			got := classificationJSON(payload.Classify(tc.payload))
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestGlobalsLoad(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "checkin.env")
	if err := os.WriteFile(envFile, []byte("CHECKIN_VISIT=none\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "checkin.yaml")
	if err := os.WriteFile(cfgFile, []byte("listen: \":9999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CHECKIN_VISIT") })

	level := "debug"
	g := &Globals{Config: cfgFile, EnvFile: envFile, LogLevel: &level, Preset: "480p"}
	cfg, err := g.load(&bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Visit != config.VisitNone {
		t.Errorf("Visit = %q, want none from env file", cfg.Visit)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Camera.Width != 640 || cfg.Camera.Height != 480 {
		t.Errorf("preset not applied: %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
}

func TestGlobalsLoad_MissingEnvFileIsFine(t *testing.T) {
	g := &Globals{EnvFile: filepath.Join(t.TempDir(), "absent.env")}
	if _, err := g.load(&bytes.Buffer{}); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestGlobalsLoad_BadPreset(t *testing.T) {
	g := &Globals{Preset: "8k"}
	_, err := g.load(&bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "8k") {
		t.Fatalf("err = %v, want unknown preset", err)
	}
}
