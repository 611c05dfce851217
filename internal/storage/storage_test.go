package storage

import (
	"errors"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	if err := m.Set("a:1", "x"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.Get("a:1")
	if err != nil || !ok || v != "x" {
		t.Fatalf("Get = (%q, %v, %v), want (x, true, nil)", v, ok, err)
	}
	if err := m.Remove("a:1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.Get("a:1"); ok {
		t.Error("key still present after Remove")
	}
}

func TestMemoryKeysPrefix(t *testing.T) {
	m := NewMemory()
	_ = m.Set("cache:b", "1")
	_ = m.Set("cache:a", "1")
	_ = m.Set("other", "1")

	keys, err := m.Keys("cache:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "cache:a" || keys[1] != "cache:b" {
		t.Errorf("Keys = %v, want [cache:a cache:b]", keys)
	}
}

func TestMemoryFailWrites(t *testing.T) {
	m := NewMemory()
	m.FailWrites = true
	if err := m.Set("k", "v"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Set error = %v, want ErrWriteFailed", err)
	}
}
