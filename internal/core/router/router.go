// Package router parses map queries and maps service errors to HTTP responses.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/assembler"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/provider"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/render"
)

// Defaults of the map query when a parameter is omitted.
const (
	DefaultResource = "甜甜花"
	DefaultMapID    = 2
)

type MapQuery struct {
	MapID     int
	Resource  string
	Clustered bool
}

type Renderer interface {
	Resolve(ctx context.Context, mapID int, resource string, clustered bool) (render.Result, error)
	Plan(ctx context.Context, mapID int, resource string, clustered bool) (render.PlanResult, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, mapID int) (*assembler.Composite, error)
}

type Catalog interface {
	IDs() []int
}

type apiError struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
}

func ParseMapQuery(r *http.Request) (MapQuery, error) {
	v := r.URL.Query()
	q := MapQuery{Resource: DefaultResource, MapID: DefaultMapID}

	if s := strings.TrimSpace(v.Get("resource_name")); s != "" {
		q.Resource = s
	} else if v.Has("resource_name") {
		return MapQuery{}, errors.New("resource_name must not be empty")
	}
	if s := strings.TrimSpace(v.Get("map_id")); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil || id <= 0 {
			return MapQuery{}, fmt.Errorf("invalid map_id %q", s)
		}
		q.MapID = id
	}
	if s := strings.TrimSpace(v.Get("is_cluster")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return MapQuery{}, fmt.Errorf("invalid is_cluster %q", s)
		}
		q.Clustered = b
	}
	return q, nil
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var se *provider.StatusError
	switch {
	case errors.Is(err, render.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, render.ErrUnknownMap):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrNotPrimed):
		return http.StatusServiceUnavailable
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, apiError{Retcode: -1, Message: msg})
}

func errorMessage(q MapQuery, err error) string {
	switch {
	case errors.Is(err, render.ErrNotFound):
		return fmt.Sprintf("resource %s not found", q.Resource)
	case errors.Is(err, render.ErrUnknownMap):
		return fmt.Sprintf("map id %d does not exist", q.MapID)
	case errors.Is(err, render.ErrNotPrimed):
		return fmt.Sprintf("map %d is still being prepared", q.MapID)
	default:
		return err.Error()
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func observed(route string, fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// HandleGetMap serves the rendered image of the query, building it on a miss.
func HandleGetMap(logger *slog.Logger, rdr Renderer) http.HandlerFunc {
	return observed("/map/get_map", func(w http.ResponseWriter, r *http.Request) {
		q, err := ParseMapQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx := r.Context()
		logger.InfoContext(ctx, "map query", "map_id", q.MapID, "resource", q.Resource, "clustered", q.Clustered)

		res, err := rdr.Resolve(ctx, q.MapID, q.Resource, q.Clustered)
		if err != nil {
			code := StatusFor(err)
			if code >= http.StatusInternalServerError {
				logger.ErrorContext(ctx, "map query failed", "map_id", q.MapID, "resource", q.Resource, "err", err)
			} else {
				logger.WarnContext(ctx, "map query rejected", "map_id", q.MapID, "resource", q.Resource, "err", err)
			}
			writeError(w, code, errorMessage(q, err))
			return
		}

		f, err := os.Open(res.Path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cached image unreadable")
			return
		}
		defer func() { _ = f.Close() }()
		st, err := f.Stat()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "cached image unreadable")
			return
		}
		cacheState := "MISS"
		if res.Hit {
			cacheState = "HIT"
		}
		w.Header().Set("X-Cache", cacheState)
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeContent(w, r, filepath.Base(res.Path), st.ModTime(), f)
	})
}

type planJSON struct {
	MapID      int          `json:"map_id"`
	Map        string       `json:"map"`
	Resource   string       `json:"resource"`
	Clustered  bool         `json:"clustered"`
	Points     int          `json:"points"`
	Min        [2]float64   `json:"min"`
	Max        [2]float64   `json:"max"`
	Indices    []int        `json:"indices"`
	ColumnSpan int          `json:"column_span"`
	Crossing   int          `json:"crossing"`
	Origin     [2]int       `json:"origin"`
	Local      [][2]float64 `json:"local"`
}

// HandlePlan reports the macro tiles a query touches, without rendering.
func HandlePlan(logger *slog.Logger, rdr Renderer) http.HandlerFunc {
	return observed("/map/plan", func(w http.ResponseWriter, r *http.Request) {
		q, err := ParseMapQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		p, err := rdr.Plan(r.Context(), q.MapID, q.Resource, q.Clustered)
		if err != nil {
			logger.WarnContext(r.Context(), "plan failed", "map_id", q.MapID, "resource", q.Resource, "err", err)
			writeError(w, StatusFor(err), errorMessage(q, err))
			return
		}
		out := planJSON{
			MapID:      p.Key.MapID,
			Map:        p.Key.MapName,
			Resource:   p.Key.Resource,
			Clustered:  p.Key.Clustered,
			Points:     p.Points,
			Min:        [2]float64{p.Min.X, p.Min.Y},
			Max:        [2]float64{p.Max.X, p.Max.Y},
			Indices:    p.Macro.Indices,
			ColumnSpan: p.Macro.ColumnSpan,
			Crossing:   p.Macro.Crossing,
			Origin:     [2]int{p.Macro.Origin.Col, p.Macro.Origin.Row},
			Local:      make([][2]float64, 0, len(p.Macro.Local)),
		}
		for _, lp := range p.Macro.Local {
			out.Local = append(out.Local, [2]float64{lp.X, lp.Y})
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// HandleRebuild starts an asynchronous rebuild of one map's composite.
func HandleRebuild(logger *slog.Logger, cat Catalog, rb Rebuilder) http.HandlerFunc {
	return observed("/admin/rebuild/{mapID}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "mapID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid map id")
			return
		}
		known := false
		for _, m := range cat.IDs() {
			known = known || m == id
		}
		if !known {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("map id %d does not exist", id))
			return
		}

		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := rb.Rebuild(ctx, id); err != nil {
				logger.ErrorContext(ctx, "rebuild failed", "map_id", id, "err", err)
				return
			}
			logger.InfoContext(ctx, "rebuild done", "map_id", id)
		}()
		writeJSON(w, http.StatusAccepted, apiError{Retcode: 0, Message: fmt.Sprintf("rebuild of map %d started", id)})
	})
}
