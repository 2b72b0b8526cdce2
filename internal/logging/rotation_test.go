package logging

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// newSmallWriter returns a RotatingWriter with a byte-sized limit so tests
// can trigger rotation without writing megabytes.
func newSmallWriter(t *testing.T, maxBytes int64, backups int, compress bool) (*RotatingWriter, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	rw, err := NewRotatingWriter(logPath, RotationConfig{MaxBackups: backups, Compress: compress})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	rw.maxSizeB = maxBytes
	rw.errOut = io.Discard
	return rw, logPath
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
		if rw.FilePath() != logPath {
			t.Errorf("FilePath() = %q, want %q", rw.FilePath(), logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		if err := os.WriteFile(logPath, []byte("initial content\n"), 0644); err != nil {
			t.Fatalf("failed to write initial content: %v", err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if rw.CurrentSize() != int64(len("initial content\n")) {
			t.Errorf("CurrentSize() = %d, want existing file size", rw.CurrentSize())
		}
		_, _ = rw.Write([]byte("appended content\n"))
		_ = rw.Close()

		content, _ := os.ReadFile(logPath)
		if !strings.Contains(string(content), "initial content") || !strings.Contains(string(content), "appended content") {
			t.Errorf("content = %q, want both lines", content)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	rw, logPath := newSmallWriter(t, 20, 2, false)

	for _, line := range []string{"first line 0000\n", "second line 000\n", "third line 0000\n", "fourth line 000\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	_ = rw.Close()

	current, _ := os.ReadFile(logPath)
	if string(current) != "fourth line 000\n" {
		t.Errorf("current log = %q, want only the last line", current)
	}
	b1, _ := os.ReadFile(logPath + ".1")
	if string(b1) != "third line 0000\n" {
		t.Errorf("backup .1 = %q, want third line", b1)
	}
	b2, _ := os.ReadFile(logPath + ".2")
	if string(b2) != "second line 000\n" {
		t.Errorf("backup .2 = %q, want second line", b2)
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("backup .3 should not exist with MaxBackups=2")
	}
}

func TestRotatingWriterRotation_NoBackups(t *testing.T) {
	rw, logPath := newSmallWriter(t, 10, 0, false)

	_, _ = rw.Write([]byte("aaaaaaaa\n"))
	_, _ = rw.Write([]byte("bbbbbbbb\n"))
	_ = rw.Close()

	current, _ := os.ReadFile(logPath)
	if string(current) != "bbbbbbbb\n" {
		t.Errorf("current log = %q, want second line only", current)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("no backup should be kept with MaxBackups=0")
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	rw, logPath := newSmallWriter(t, 10, 1, true)

	_, _ = rw.Write([]byte("aaaaaaaa\n"))
	_, _ = rw.Write([]byte("bbbbbbbb\n"))
	// Close waits for in-flight compression.
	_ = rw.Close()

	f, err := os.Open(logPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, gz); err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if buf.String() != "aaaaaaaa\n" {
		t.Errorf("decompressed backup = %q, want first line", buf.String())
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed after compression")
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	rw, _ := newSmallWriter(t, 0, 0, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = rw.Write([]byte("0123456789\n"))
			}
		}()
	}
	wg.Wait()

	if got, want := rw.CurrentSize(), int64(8*50*11); got != want {
		t.Errorf("CurrentSize() = %d, want %d", got, want)
	}
	_ = rw.Close()
}

func TestRotatingWriterClose(t *testing.T) {
	rw, _ := newSmallWriter(t, 0, 0, false)
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := rw.Sync(); err != nil {
		t.Errorf("Sync after Close = %v, want nil", err)
	}
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLoggerWithRotation(dir, LevelDebug, DefaultRotationConfig())
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}

	logger.Info("test message", "key", "value")
	_ = logger.Close()

	lines := readLines(t, filepath.Join(dir, LogFileName))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["msg"] != "test message" || lines[0]["key"] != "value" {
		t.Errorf("entry = %v", lines[0])
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
