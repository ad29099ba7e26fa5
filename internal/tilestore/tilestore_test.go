package tilestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

func tilePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type origin struct {
	srv      *httptest.Server
	mu       sync.Mutex
	hits     map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

// newOrigin serves every tile except the ones listed in missing.
func newOrigin(t *testing.T, body []byte, delay time.Duration, missing ...string) *origin {
	t.Helper()
	o := &origin{hits: map[string]int{}}
	skip := map[string]bool{}
	for _, m := range missing {
		skip[m] = true
	}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := o.inFlight.Add(1)
		defer o.inFlight.Add(-1)
		for {
			p := o.peak.Load()
			if n <= p || o.peak.CompareAndSwap(p, n) {
				break
			}
		}
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if skip[name] {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *origin) total() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.hits {
		n += v
	}
	return n
}

func newStore(t *testing.T, base string, conc, attempts int) *Store {
	t.Helper()
	s, err := New(logger.Discard(), &http.Client{Timeout: 2 * time.Second}, Config{
		Dir:          t.TempDir(),
		BaseURL:      base,
		Ext:          "png",
		Concurrency:  conc,
		FetchTimeout: time.Second,
		MaxAttempts:  attempts,
	}, func(mapID int) string { return fmt.Sprintf("slice%d", mapID) })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func grid(cols, rows int) []model.TileCoord {
	return model.TileRange{ColEnd: cols, RowEnd: rows}.Coords()
}

func TestURLAndPath(t *testing.T) {
	s := newStore(t, "http://tiles.example/map/", 1, 1)
	c := model.TileCoord{Col: 3, Row: 1}
	if got := s.URL(2, c); got != "http://tiles.example/map/slice2/3_1_P0.png" {
		t.Fatalf("URL=%q", got)
	}
	if !strings.HasSuffix(s.Path(2, c), "2_3_1.png") {
		t.Fatalf("Path=%q", s.Path(2, c))
	}
}

func TestEnsure_FetchesOnceThenServesFromDisk(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.RGBA{R: 255, A: 255}), 0)
	s := newStore(t, o.srv.URL, 3, 3)
	ctx := context.Background()

	rep, err := s.Ensure(ctx, 2, grid(3, 2))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Fetched != 6 || rep.Cached != 0 || rep.Failed != 0 {
		t.Fatalf("first report=%+v", rep)
	}
	if !rep.Extent.Any || rep.Extent.MaxCol != 2 || rep.Extent.MaxRow != 1 {
		t.Fatalf("extent=%+v", rep.Extent)
	}

	rep, err = s.Ensure(ctx, 2, grid(3, 2))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Cached != 6 || rep.Fetched != 0 {
		t.Fatalf("second report=%+v", rep)
	}
	if o.total() != 6 {
		t.Fatalf("origin hit %d times, want 6", o.total())
	}

	img, err := s.Load(2, model.TileCoord{Col: 1, Row: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Bounds().Dx() != 4 {
		t.Fatalf("bounds=%v", img.Bounds())
	}
}

func TestEnsure_PartialFailureIsNotFatal(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.White), 0, "1_0_P0.png")
	s := newStore(t, o.srv.URL, 4, 3)

	rep, err := s.Ensure(context.Background(), 2, grid(2, 2))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Fetched != 3 || rep.Failed != 1 {
		t.Fatalf("report=%+v", rep)
	}
	if got := s.State(2, model.TileCoord{Col: 1, Row: 0}); got != StateMissing {
		t.Fatalf("state=%v want missing", got)
	}
	if _, err := s.Load(2, model.TileCoord{Col: 1, Row: 0}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load err=%v", err)
	}
}

func TestEnsure_DurableAbsenceAfterMaxAttempts(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.White), 0, "0_0_P0.png")
	s := newStore(t, o.srv.URL, 1, 2)
	ctx := context.Background()
	c := []model.TileCoord{{Col: 0, Row: 0}}

	rep, _ := s.Ensure(ctx, 7, c)
	if rep.Failed != 1 || rep.Absent != 0 {
		t.Fatalf("attempt 1: %+v", rep)
	}
	rep, _ = s.Ensure(ctx, 7, c)
	if rep.Absent != 1 || rep.Failed != 0 {
		t.Fatalf("attempt 2: %+v", rep)
	}
	if s.State(7, c[0]) != StateAbsent {
		t.Fatal("tile must be durably absent")
	}

	before := o.total()
	rep, _ = s.Ensure(ctx, 7, c)
	if rep.Absent != 1 || o.total() != before {
		t.Fatalf("absent tile refetched: %+v hits=%d", rep, o.total())
	}

	n, err := s.ClearAbsent(7)
	if err != nil || n != 1 {
		t.Fatalf("ClearAbsent n=%d err=%v", n, err)
	}
	if s.State(7, c[0]) != StateMissing {
		t.Fatal("marker must be gone")
	}
}

func TestEnsure_BoundsInFlightFetches(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.Black), 20*time.Millisecond)
	s := newStore(t, o.srv.URL, 3, 1)

	rep, err := s.Ensure(context.Background(), 2, grid(4, 4))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Fetched != 16 {
		t.Fatalf("report=%+v", rep)
	}
	if p := o.peak.Load(); p > 3 {
		t.Fatalf("peak in-flight=%d, limit 3", p)
	}
}

func TestEnsure_TimeoutDegradesToFailure(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.Black), 300*time.Millisecond)
	s := newStore(t, o.srv.URL, 2, 5)
	s.cfg.FetchTimeout = 20 * time.Millisecond

	rep, err := s.Ensure(context.Background(), 2, grid(2, 1))
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if rep.Failed != 2 || rep.Fetched != 0 {
		t.Fatalf("report=%+v", rep)
	}
}

func TestEnsure_CanceledContextStops(t *testing.T) {
	o := newOrigin(t, tilePNG(t, color.Black), 0)
	s := newStore(t, o.srv.URL, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Ensure(ctx, 2, grid(3, 3)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if o.total() != 0 {
		t.Fatalf("fetched %d tiles after cancel", o.total())
	}
}
