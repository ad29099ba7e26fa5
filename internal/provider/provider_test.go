package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

func newServer(t *testing.T, routes map[string]string) (*Client, *[]string) {
	t.Helper()
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := New(logger.Discard(), &http.Client{Timeout: 2 * time.Second}, srv.URL+"/map/", "ys_obc", "zh-cn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, &queries
}

func TestMapDetail_StringEncodedDetail(t *testing.T) {
	c, queries := newServer(t, map[string]string{
		"/map/info": `{"retcode":0,"message":"OK","data":{"info":{"id":2,
			"detail":"{\"origin\":[4844,4335],\"padding\":[1024,512],\"total_size\":[12288,8192]}"}}}`,
	})

	d, err := c.MapDetail(context.Background(), 2)
	if err != nil {
		t.Fatalf("MapDetail: %v", err)
	}
	want := model.MapDetail{Origin: [2]int{4844, 4335}, Padding: [2]int{1024, 512}, TotalSize: [2]int{12288, 8192}}
	if d != want {
		t.Fatalf("detail=%+v want %+v", d, want)
	}
	if len(*queries) != 1 || (*queries)[0] != "app_sn=ys_obc&lang=zh-cn&map_id=2" {
		t.Fatalf("query=%v", *queries)
	}
}

func TestMapDetail_PrefersV2(t *testing.T) {
	c, _ := newServer(t, map[string]string{
		"/map/info": `{"retcode":0,"message":"OK","data":{"info":{"id":7,
			"detail":{"origin":[1,1]},"detail_v2":{"origin":[2,3],"total_size":[4096,4096]}}}}`,
	})
	d, err := c.MapDetail(context.Background(), 7)
	if err != nil {
		t.Fatalf("MapDetail: %v", err)
	}
	if d.Origin != [2]int{2, 3} || d.TotalSize != [2]int{4096, 4096} {
		t.Fatalf("detail=%+v", d)
	}
}

func TestMapDetail_Missing(t *testing.T) {
	c, _ := newServer(t, map[string]string{
		"/map/info": `{"retcode":0,"message":"OK","data":{"info":{"id":7,"detail":""}}}`,
	})
	if _, err := c.MapDetail(context.Background(), 7); err == nil {
		t.Fatal("expected error for empty detail")
	}
}

func TestStatusError_Propagates(t *testing.T) {
	c, _ := newServer(t, map[string]string{
		"/map/label/tree": `{"retcode":-2000,"message":"rate limited","data":null}`,
	})
	_, err := c.Labels(context.Background(), 2)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %v", err)
	}
	if se.Status != -2000 || se.Message != "rate limited" {
		t.Fatalf("status error=%+v", se)
	}
	if se.Error() != "provider status -2000: rate limited" {
		t.Fatalf("message=%q", se.Error())
	}
	if !IsStatus(err) {
		t.Fatal("IsStatus must be true")
	}
}

func TestHTTPErrorIsNotStatusError(t *testing.T) {
	c, _ := newServer(t, map[string]string{})
	_, err := c.Points(context.Background(), 2)
	if err == nil || IsStatus(err) {
		t.Fatalf("want transport-level error, got %v", err)
	}
}

func TestLabelsAndPoints(t *testing.T) {
	c, _ := newServer(t, map[string]string{
		"/map/label/tree": `{"retcode":0,"message":"OK","data":{"tree":[
			{"id":1,"name":"Local Specialties","children":[
				{"id":298,"name":"Sweet Flower","icon":"https://icons.example/298.png","parent_id":1},
				{"id":299,"name":"Cor/Lapis","icon":"","parent_id":1}]}]}}`,
		"/map/point/list": `{"retcode":0,"message":"OK","data":{"point_list":[
			{"id":10,"label_id":298,"x_pos":114,"y_pos":514,"z_level":2,"icon_sign":1},
			{"id":11,"label_id":5,"x_pos":1,"y_pos":1},
			{"id":12,"label_id":298,"x_pos":1919,"y_pos":810}]}}`,
	})
	ctx := context.Background()

	groups, err := c.Labels(ctx, 2)
	if err != nil {
		t.Fatalf("Labels: %v", err)
	}
	l, ok := FindLabel(groups, "Sweet Flower")
	if !ok || l.ID != 298 || l.Icon == "" {
		t.Fatalf("label=%+v ok=%v", l, ok)
	}
	if _, ok := FindLabel(groups, "sweet flower"); ok {
		t.Fatal("label match must be case-sensitive")
	}
	if _, ok := FindLabel(groups, "Local Specialties"); ok {
		t.Fatal("group nodes are not resources")
	}

	points, err := c.Points(ctx, 2)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	got := PointsByLabel(points, 298)
	if len(got) != 2 || got[0].X != 114 || got[0].Y != 514 || got[1].X != 1919 {
		t.Fatalf("points=%+v", got)
	}
	if got[0].Tier != 2 || got[0].Status != 1 {
		t.Fatalf("metadata lost: %+v", got[0])
	}
}

func TestToPixels_AddsOrigin(t *testing.T) {
	in := []model.Point{{X: 1200, Y: 5000}, {X: -4200, Y: 1800}}
	got := ToPixels(in, model.MapDetail{Origin: [2]int{4844, 4335}})
	if got[0].X != 6044 || got[0].Y != 9335 || got[1].X != 644 || got[1].Y != 6135 {
		t.Fatalf("pixels=%+v", got)
	}
	if in[0].X != 1200 {
		t.Fatal("input mutated")
	}
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	if _, err := New(logger.Discard(), http.DefaultClient, "/relative", "", ""); err == nil {
		t.Fatal("expected error")
	}
}
