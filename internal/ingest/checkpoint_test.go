package ingest

import (
	"testing"

	"github.com/matheus3301/officechat/internal/storage"
)

func TestCheckpoints(t *testing.T) {
	s := storage.NewMemory()
	_ = s.Set(CheckpointPrefix+"C1", "1700000000000")
	_ = s.Set(CheckpointPrefix+"C2", "garbage")
	_ = s.Set("officechat:cache:other", "1")

	got, err := Checkpoints(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["C1"] != 1700000000000 {
		t.Errorf("Checkpoints() = %v", got)
	}
}

func TestUpdateCheckpointMonotonic(t *testing.T) {
	db := testDB(t)
	e := NewEngine(me, db, nil, nil, nil, nil)

	for _, ts := range []int64{200, 100, 300} {
		if err := e.UpdateCheckpoint("C1", ts); err != nil {
			t.Fatal(err)
		}
	}
	got, err := e.GetCheckpoint("C1")
	if err != nil {
		t.Fatal(err)
	}
	if got != 300 {
		t.Errorf("checkpoint = %d, want 300", got)
	}
}
