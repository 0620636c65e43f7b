package hookclient

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/followthedavid/samguard/internal/config"
	"github.com/followthedavid/samguard/internal/daemon"
)

func startTestDaemon(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig(dir)
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	stores, err := daemon.Open(cfg)
	if err != nil {
		t.Fatalf("daemon.Open: %v", err)
	}

	socketPath := filepath.Join(dir, "daemon.sock")
	d := daemon.New(stores, cfg.Cron, daemon.Config{SocketPath: socketPath, PIDPath: filepath.Join(dir, "daemon.pid")}, nil)

	go d.Run()
	t.Cleanup(d.Shutdown)

	for i := 0; i < 50; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	return socketPath
}

func TestRunAllowsSafeBashCommand(t *testing.T) {
	socketPath := startTestDaemon(t)
	client := New(socketPath, nil)

	input := &Input{
		ToolName:   "Bash",
		ToolInput:  []byte(`{"command":"git status"}`),
		WorkingDir: t.TempDir(),
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(client, input, w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if !bytes.Contains(buf.Bytes(), []byte(`"behavior":"allow"`)) {
		t.Errorf("expected allow output, got %s", buf.String())
	}
}

func TestRunSkipsReadOnlyTool(t *testing.T) {
	client := New("/nonexistent.sock", nil)
	input := &Input{ToolName: "Read", ToolInput: []byte(`{}`), WorkingDir: t.TempDir()}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(client, input, w); err != nil {
		t.Fatalf("Run: %v", err)
	}
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	if buf.Len() != 0 {
		t.Errorf("expected no output for skipped tool, got %s", buf.String())
	}
}
