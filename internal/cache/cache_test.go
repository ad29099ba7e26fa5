package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestDir_WriteIsAtomic(t *testing.T) {
	d, err := NewDir(filepath.Join(t.TempDir(), "nested", "tiles"))
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	if d.Exists("2_0_0.png") {
		t.Fatal("unexpected file")
	}
	if err := d.Write("2_0_0.png", []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !d.Exists("2_0_0.png") {
		t.Fatal("file missing after write")
	}
	b, err := os.ReadFile(d.Path("2_0_0.png"))
	if err != nil || string(b) != "abc" {
		t.Fatalf("content=%q err=%v", b, err)
	}
}

func TestDir_FailedWriteLeavesNothing(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	boom := errors.New("encode failed")
	err := d.WriteWith("teyvat_x.jpg", func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	entries, _ := os.ReadDir(d.Root())
	if len(entries) != 0 {
		t.Fatalf("leftover files: %v", entries)
	}
}

func TestDir_GlobAndRemove(t *testing.T) {
	d, _ := NewDir(t.TempDir())
	for _, n := range []string{"2_0_0.absent", "2_1_0.absent", "7_0_0.absent"} {
		if err := d.Write(n, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := d.Glob("2_*_*.absent")
	if err != nil || len(got) != 2 {
		t.Fatalf("glob=%v err=%v", got, err)
	}
	if err := d.Remove("2_0_0.absent"); err != nil {
		t.Fatal(err)
	}
	if err := d.Remove("2_0_0.absent"); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	if _, err := NewDir(""); err == nil {
		t.Fatal("empty root must fail")
	}
}
