package lock

import (
	"errors"
	"os"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Verify lock file exists and contains PID.
	data, err := os.ReadFile(tmpDir + "/LOCK")
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Error("lock file is empty")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir)
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() || held.Since.IsZero() {
		t.Errorf("held = %+v, want this process with a timestamp", held)
	}
}

func TestHolder(t *testing.T) {
	tmpDir := t.TempDir()

	if _, held := Holder(tmpDir); held {
		t.Fatal("Holder() reported a lock before Acquire")
	}

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	h, held := Holder(tmpDir)
	if !held || h.PID != os.Getpid() {
		t.Errorf("Holder() = %+v, %v", h, held)
	}

	_ = l.Release()
	if _, held := Holder(tmpDir); held {
		t.Error("Holder() still reports a lock after Release")
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
