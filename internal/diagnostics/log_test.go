package diagnostics

import (
	"testing"

	"github.com/collab-daemon/collabd/internal/fsreg"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test log: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAppliedAndRecentForPath(t *testing.T) {
	l := openTestLog(t)

	d := fsreg.WriteDiff("a/b.txt", []byte("hello"))
	if err := l.RecordApplied(d, "fs", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.RecordApplied(fsreg.DelDiff("a/b.txt"), "peer", "127.0.0.1:9000"); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := l.RecentForPath("a/b.txt", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	// newest first
	if rows[0].Op != "Del" || rows[0].SourceKind != "peer" || rows[0].SourceAddr != "127.0.0.1:9000" {
		t.Errorf("rows[0] = %+v, want Del/peer/127.0.0.1:9000", rows[0])
	}
	if rows[1].Op != "Write" || rows[1].SourceKind != "fs" {
		t.Errorf("rows[1] = %+v, want Write/fs", rows[1])
	}
}

func TestRecentForPathMatchesMoveDestination(t *testing.T) {
	l := openTestLog(t)

	if err := l.RecordApplied(fsreg.MoveDiff("old.txt", "new.txt"), "fs", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	rows, err := l.RecentForPath("new.txt", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].To != "new.txt" {
		t.Fatalf("got %+v, want one row with to=new.txt", rows)
	}
}

func TestRecentForPathUnrelatedPathEmpty(t *testing.T) {
	l := openTestLog(t)
	l.RecordApplied(fsreg.WriteDiff("a.txt", []byte("x")), "fs", "")

	rows, err := l.RecentForPath("b.txt", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows, want 0", len(rows))
	}
}

func TestNilLogIsNoOp(t *testing.T) {
	var l *Log
	if err := l.RecordApplied(fsreg.WriteDiff("a.txt", []byte("x")), "fs", ""); err != nil {
		t.Fatalf("record on nil log: %v", err)
	}
	rows, err := l.RecentForPath("a.txt", 10)
	if err != nil || rows != nil {
		t.Fatalf("recent on nil log = %v, %v, want nil, nil", rows, err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close on nil log: %v", err)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	l := openTestLog(t)
	if err := l.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestFsDiffsTableExists(t *testing.T) {
	l := openTestLog(t)
	var count int
	if err := l.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='fs_diffs'").Scan(&count); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if count != 1 {
		t.Fatal("fs_diffs table not found")
	}
}
