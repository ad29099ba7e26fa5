package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/grid"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/provider"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/render"
)

type fakeRenderer struct {
	path string
	hit  bool
	err  error
	got  MapQuery
	plan render.PlanResult
}

func (f *fakeRenderer) Resolve(_ context.Context, mapID int, resource string, clustered bool) (render.Result, error) {
	f.got = MapQuery{MapID: mapID, Resource: resource, Clustered: clustered}
	if f.err != nil {
		return render.Result{}, f.err
	}
	return render.Result{Path: f.path, Hit: f.hit}, nil
}

func (f *fakeRenderer) Plan(_ context.Context, mapID int, resource string, clustered bool) (render.PlanResult, error) {
	f.got = MapQuery{MapID: mapID, Resource: resource, Clustered: clustered}
	return f.plan, f.err
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestParseMapQuery_Defaults(t *testing.T) {
	q, err := ParseMapQuery(httptest.NewRequest(http.MethodGet, "/map/get_map", nil))
	if err != nil {
		t.Fatal(err)
	}
	if q.MapID != DefaultMapID || q.Resource != DefaultResource || q.Clustered {
		t.Fatalf("defaults=%+v", q)
	}
}

func TestParseMapQuery_Values(t *testing.T) {
	q, err := ParseMapQuery(httptest.NewRequest(http.MethodGet,
		"/map/get_map?map_id=9&resource_name=Cor%2FLapis&is_cluster=true", nil))
	if err != nil {
		t.Fatal(err)
	}
	if q.MapID != 9 || q.Resource != "Cor/Lapis" || !q.Clustered {
		t.Fatalf("query=%+v", q)
	}
}

func TestParseMapQuery_Rejects(t *testing.T) {
	for _, target := range []string{
		"/map/get_map?map_id=abc",
		"/map/get_map?map_id=-2",
		"/map/get_map?is_cluster=maybe",
		"/map/get_map?resource_name=",
	} {
		if _, err := ParseMapQuery(httptest.NewRequest(http.MethodGet, target, nil)); err == nil {
			t.Errorf("%s: expected error", target)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", render.ErrNotFound), http.StatusNotFound},
		{render.ErrUnknownMap, http.StatusBadRequest},
		{render.ErrNotPrimed, http.StatusServiceUnavailable},
		{fmt.Errorf("labels: %w", &provider.StatusError{Status: -1, Message: "x"}), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Errorf("StatusFor(%v)=%d want %d", tc.err, got, tc.want)
		}
	}
}

func TestHandleGetMap_ServesImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teyvat_x.jpg")
	if err := os.WriteFile(path, []byte("\xff\xd8jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	fr := &fakeRenderer{path: path, hit: true}
	rr := get(t, HandleGetMap(logger.Discard(), fr), "/map/get_map?resource_name=x&map_id=2")

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "image/jpeg" || rr.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("headers=%v", rr.Header())
	}
	if rr.Body.String() != "\xff\xd8jpeg" {
		t.Fatalf("body=%q", rr.Body.String())
	}
	if fr.got.Resource != "x" || fr.got.MapID != 2 {
		t.Fatalf("renderer got %+v", fr.got)
	}
}

func TestHandleGetMap_ErrorEnvelope(t *testing.T) {
	fr := &fakeRenderer{err: render.ErrNotFound}
	rr := get(t, HandleGetMap(logger.Discard(), fr), "/map/get_map?resource_name=ghost")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	var body apiError
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Retcode != -1 || body.Message != "resource ghost not found" {
		t.Fatalf("body=%+v", body)
	}
}

func TestHandleGetMap_BadQuery(t *testing.T) {
	fr := &fakeRenderer{}
	rr := get(t, HandleGetMap(logger.Discard(), fr), "/map/get_map?map_id=two")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
	if fr.got != (MapQuery{}) {
		t.Fatal("renderer must not be called on a bad query")
	}
}

func TestHandlePlan_JSON(t *testing.T) {
	fr := &fakeRenderer{plan: render.PlanResult{
		Key:    model.RenderKey{MapID: 2, MapName: "teyvat", Resource: "x"},
		Points: 2,
		Min:    model.Vec{X: 10, Y: 20},
		Max:    model.Vec{X: 30, Y: 40},
		Macro: grid.MacroPlan{
			Indices: []int{5}, ColumnSpan: 1, Origin: model.TileCoord{Col: 1, Row: 1},
			Local: []model.Point{{X: 1, Y: 2}},
		},
	}}
	rr := get(t, HandlePlan(logger.Discard(), fr), "/map/plan?resource_name=x")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var out planJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Map != "teyvat" || len(out.Indices) != 1 || out.Indices[0] != 5 || out.Origin != [2]int{1, 1} {
		t.Fatalf("plan=%+v", out)
	}
	if len(out.Local) != 1 || out.Local[0] != [2]float64{1, 2} {
		t.Fatalf("local=%v", out.Local)
	}
}

type rebuilder struct{ called chan int }

func (r *rebuilder) Rebuild(_ context.Context, id int) (*assembler.Composite, error) {
	r.called <- id
	return nil, nil
}

type ids []int

func (i ids) IDs() []int { return i }

func TestHandleRebuild(t *testing.T) {
	rb := &rebuilder{called: make(chan int, 1)}
	r := chi.NewRouter()
	r.Post("/admin/rebuild/{mapID}", HandleRebuild(logger.Discard(), ids{2, 9}, rb))

	post := func(path string) int {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		return rr.Code
	}

	if code := post("/admin/rebuild/9"); code != http.StatusAccepted {
		t.Fatalf("status=%d", code)
	}
	select {
	case id := <-rb.called:
		if id != 9 {
			t.Fatalf("rebuilt %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild not started")
	}

	if code := post("/admin/rebuild/34"); code != http.StatusBadRequest {
		t.Fatalf("unknown map status=%d", code)
	}
	if code := post("/admin/rebuild/x"); code != http.StatusBadRequest {
		t.Fatalf("invalid id status=%d", code)
	}
}
