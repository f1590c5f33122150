package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/config"
	"audio-extract-service/infrastructure/filesystem"
)

// fakeTranscoder writes a fixed payload or fails
type fakeTranscoder struct {
	fail bool
}

func (f fakeTranscoder) Transcode(_ context.Context, req media.TranscodeRequest, _ media.TranscodeObserver) error {
	if f.fail {
		return media.NewError(media.KindConversionFailed, "transcode", "Invalid data found when processing input", nil)
	}
	return os.WriteFile(req.OutputPath, []byte("ID3-audio"), 0o644)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Paths.DataDirectory = t.TempDir()
	cfg.Egress.DeleteDelay = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s) unexpected error: %v", dir, err)
	}
	return len(entries)
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("fake video bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunConvert_Success(t *testing.T) {
	cfg := testConfig(t)
	cfg.Egress.DeleteDelay = config.Defaults().Egress.DeleteDelay
	source := writeSource(t, "2025-12-28.mp4")
	outDir := t.TempDir()
	var out bytes.Buffer

	err := RunConvertWithDependencies(context.Background(), cfg, fakeTranscoder{}, source, outDir, "", &out)
	if err != nil {
		t.Fatalf("RunConvertWithDependencies() unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(outDir, "2025-12-28.mp3"))
	if err != nil {
		t.Fatalf("expected output file: %v", err)
	}
	if string(data) != "ID3-audio" {
		t.Errorf("output = %q", data)
	}
	if !strings.Contains(out.String(), "Successfully created") {
		t.Errorf("output missing success message: %s", out.String())
	}
	if n := countFiles(t, cfg.StagingDir()); n != 0 {
		t.Errorf("staging has %d files, want 0", n)
	}

	if n := countFiles(t, cfg.OutputDir()); n != 0 {
		t.Errorf("egress has %d files after convert returned, want 0", n)
	}
}

func TestRunConvert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		source     func(t *testing.T) string
		transcoder media.Transcoder
		wantErr    error
	}{
		{
			name:       "invalid format",
			source:     func(t *testing.T) string { return writeSource(t, "notes.txt") },
			transcoder: fakeTranscoder{},
			wantErr:    media.ErrInvalidFormat,
		},
		{
			name:       "engine failure",
			source:     func(t *testing.T) string { return writeSource(t, "broken.mp4") },
			transcoder: fakeTranscoder{fail: true},
			wantErr:    media.ErrConversionFailed,
		},
		{
			name:       "missing source",
			source:     func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.mp4") },
			transcoder: fakeTranscoder{},
			wantErr:    os.ErrNotExist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			var out bytes.Buffer

			err := RunConvertWithDependencies(context.Background(), cfg, tt.transcoder, tt.source(t), t.TempDir(), "", &out)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenApp_LocksDataDirectory(t *testing.T) {
	cfg := testConfig(t)

	a, err := openApp(context.Background(), cfg, fakeTranscoder{})
	if err != nil {
		t.Fatalf("openApp() unexpected error: %v", err)
	}
	defer a.Close()

	if _, err := openApp(context.Background(), cfg, fakeTranscoder{}); !errors.Is(err, filesystem.ErrLocked) {
		t.Errorf("second openApp() error = %v, want ErrLocked", err)
	}
}

func TestOpenApp_RestartDiscardsUnfinishedOutput(t *testing.T) {
	cfg := testConfig(t)
	const id = "0b1e7a52-3c1d-4c4e-9f0a-6c1b2d3e4f50"
	for dir, name := range map[string]string{
		cfg.StagingDir(): id + ".mp4",
		cfg.OutputDir():  id + ".mp3",
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte("left by a crash"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	a, err := openApp(context.Background(), cfg, fakeTranscoder{})
	if err != nil {
		t.Fatalf("openApp() unexpected error: %v", err)
	}
	defer a.Close()

	if _, err := a.egress.Fetch(context.Background(), id+".mp3"); !errors.Is(err, media.ErrNotFound) {
		t.Fatalf("Fetch(unfinished output) error = %v, want ErrNotFound", err)
	}

	art, err := a.orchestrator.Convert(context.Background(), id, "recording.mp4")
	if err != nil {
		t.Fatalf("Convert() after restart unexpected error: %v", err)
	}
	d, err := a.egress.Fetch(context.Background(), art.Filename)
	if err != nil {
		t.Fatalf("Fetch() unexpected error: %v", err)
	}
	defer d.Abort(nil)
	data, err := io.ReadAll(d.Content)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "ID3-audio" {
		t.Errorf("artifact = %q, want fresh conversion output", data)
	}
}

func TestRunSweep(t *testing.T) {
	cfg := testConfig(t)
	cfg.Staging.MaxAge = time.Minute

	if err := os.MkdirAll(cfg.StagingDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	stale := filepath.Join(cfg.StagingDir(), "abc123.mp4")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	fresh := filepath.Join(cfg.StagingDir(), "def456.mp4")
	if err := os.WriteFile(fresh, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := RunSweepWithDependencies(context.Background(), cfg, &out); err != nil {
		t.Fatalf("RunSweepWithDependencies() unexpected error: %v", err)
	}

	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale upload not removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh upload removed")
	}
	if !strings.Contains(out.String(), "Removed 1 stale uploads") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunServe_HealthAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunServeWithDependencies(ctx, cfg, fakeTranscoder{}, listener, io.Discard)
	}()

	url := "http://" + listener.Addr().String() + "/api/health"
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"OK"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunServeWithDependencies() unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

// mockPrompter answers prompts from a script
type mockPrompter struct {
	inputs   map[string]string
	confirms map[string]bool
}

func (m *mockPrompter) Input(message, defaultValue string) (string, error) {
	if v, ok := m.inputs[message]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func (m *mockPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	if v, ok := m.confirms[message]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func TestRunSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.yaml")
	prompter := &mockPrompter{inputs: map[string]string{
		"Address to listen on?":                             ":8080",
		"Where should uploads and converted files be kept?": "/srv/audio",
		"Maximum time for one conversion?":                  "10m",
	}}
	var out bytes.Buffer

	if err := RunSetupWithPrompter(prompter, path, &out); err != nil {
		t.Fatalf("RunSetupWithPrompter() unexpected error: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Paths.DataDirectory != "/srv/audio" {
		t.Errorf("Paths.DataDirectory = %q", cfg.Paths.DataDirectory)
	}
	if cfg.Transcode.Timeout != 10*time.Minute {
		t.Errorf("Transcode.Timeout = %v", cfg.Transcode.Timeout)
	}
	if cfg.Egress.ExpireAfter != 15*time.Minute {
		t.Errorf("Egress.ExpireAfter = %v, want default", cfg.Egress.ExpireAfter)
	}
}

func TestRunSetup_KeepsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer

	if err := RunSetupWithPrompter(&mockPrompter{}, path, &out); err != nil {
		t.Fatalf("RunSetupWithPrompter() unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Setup cancelled") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestRunSetup_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	prompter := &mockPrompter{inputs: map[string]string{"Maximum time for one conversion?": "forever"}}

	if err := RunSetupWithPrompter(prompter, path, io.Discard); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("config written despite invalid input")
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Defaults()
	var out bytes.Buffer

	if err := RunConfigSetWithDependencies(cfg, path, "egress.expire_after", "30m", &out); err != nil {
		t.Fatalf("set unexpected error: %v", err)
	}
	out.Reset()
	if err := RunConfigGetWithDependencies(cfg, path, "egress.expire_after", &out); err != nil {
		t.Fatalf("get unexpected error: %v", err)
	}
	if strings.TrimSpace(out.String()) != "30m0s" {
		t.Errorf("get = %q, want 30m0s", out.String())
	}

	out.Reset()
	if err := RunConfigShowWithDependencies(cfg, path, &out); err != nil {
		t.Fatalf("show unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "transcode.ffmpeg_path") {
		t.Errorf("show output missing keys: %s", out.String())
	}

	if err := RunConfigGetWithDependencies(cfg, path, "google.token", &out); !errors.Is(err, config.ErrUnknownKey) {
		t.Errorf("get unknown key error = %v, want ErrUnknownKey", err)
	}
}
