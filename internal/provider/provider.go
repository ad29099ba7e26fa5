// Package provider reads map metadata, the label tree and point lists from the
// map content API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/model"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
)

// Source is what the render pipeline needs from the content API.
type Source interface {
	MapDetail(ctx context.Context, mapID int) (model.MapDetail, error)
	Labels(ctx context.Context, mapID int) ([]model.LabelGroup, error)
	Points(ctx context.Context, mapID int) ([]model.Point, error)
}

// StatusError is returned when the API envelope carries a non-zero retcode.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, e.Message)
}

type Client struct {
	logger *slog.Logger
	http   *http.Client
	base   *url.URL
	appSN  string
	lang   string
}

var _ Source = (*Client)(nil)

func New(logger *slog.Logger, client *http.Client, baseURL, appSN, lang string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider url %q must be absolute", baseURL)
	}
	return &Client{logger: logger, http: client, base: u, appSN: appSN, lang: lang}, nil
}

type envelope struct {
	Retcode int             `json:"retcode"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, endpoint string, mapID int, out any) error {
	u := *c.base
	u.Path += endpoint
	q := url.Values{}
	q.Set("map_id", strconv.Itoa(mapID))
	if c.appSN != "" {
		q.Set("app_sn", c.appSN)
	}
	if c.lang != "" {
		q.Set("lang", c.lang)
	}
	u.RawQuery = q.Encode()

	start := time.Now()
	err := c.do(ctx, u.String(), out)
	observability.ObserveUpstreamLatency("provider", err, time.Since(start).Seconds())
	if err != nil {
		c.logger.DebugContext(ctx, "provider request failed", "endpoint", endpoint, "err", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read provider body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider http status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode provider envelope: %w", err)
	}
	if env.Retcode != 0 {
		return &StatusError{Status: env.Retcode, Message: env.Message}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode provider data: %w", err)
	}
	return nil
}

type mapGeometry struct {
	Origin    []int `json:"origin"`
	Padding   []int `json:"padding"`
	TotalSize []int `json:"total_size"`
}

// detailField accepts the detail either as an object or as a JSON string.
type detailField struct {
	geo *mapGeometry
}

func (d *detailField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return nil
		}
		b = []byte(s)
	}
	var g mapGeometry
	if err := json.Unmarshal(b, &g); err != nil {
		return err
	}
	d.geo = &g
	return nil
}

func (c *Client) MapDetail(ctx context.Context, mapID int) (model.MapDetail, error) {
	var data struct {
		Info struct {
			ID       int         `json:"id"`
			Detail   detailField `json:"detail"`
			DetailV2 detailField `json:"detail_v2"`
		} `json:"info"`
	}
	if err := c.get(ctx, "/info", mapID, &data); err != nil {
		return model.MapDetail{}, err
	}
	geo := data.Info.DetailV2.geo
	if geo == nil {
		geo = data.Info.Detail.geo
	}
	if geo == nil {
		return model.MapDetail{}, fmt.Errorf("map %d: provider returned no detail", mapID)
	}
	return model.MapDetail{
		Origin:    pair(geo.Origin),
		Padding:   pair(geo.Padding),
		TotalSize: pair(geo.TotalSize),
	}, nil
}

func pair(v []int) [2]int {
	var out [2]int
	copy(out[:], v)
	return out
}

type labelJSON struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	Icon     string      `json:"icon"`
	ParentID int64       `json:"parent_id"`
	Children []labelJSON `json:"children"`
}

func (c *Client) Labels(ctx context.Context, mapID int) ([]model.LabelGroup, error) {
	var data struct {
		Tree []labelJSON `json:"tree"`
	}
	if err := c.get(ctx, "/label/tree", mapID, &data); err != nil {
		return nil, err
	}
	out := make([]model.LabelGroup, 0, len(data.Tree))
	for _, g := range data.Tree {
		grp := model.LabelGroup{ID: g.ID, Name: g.Name}
		for _, ch := range g.Children {
			grp.Children = append(grp.Children, model.Label{
				ID: ch.ID, Name: ch.Name, Icon: ch.Icon, ParentID: ch.ParentID,
			})
		}
		out = append(out, grp)
	}
	return out, nil
}

func (c *Client) Points(ctx context.Context, mapID int) ([]model.Point, error) {
	var data struct {
		PointList []struct {
			ID       int64   `json:"id"`
			LabelID  int64   `json:"label_id"`
			XPos     float64 `json:"x_pos"`
			YPos     float64 `json:"y_pos"`
			ZLevel   int     `json:"z_level"`
			IconSign int     `json:"icon_sign"`
		} `json:"point_list"`
	}
	if err := c.get(ctx, "/point/list", mapID, &data); err != nil {
		return nil, err
	}
	out := make([]model.Point, 0, len(data.PointList))
	for _, p := range data.PointList {
		out = append(out, model.Point{
			ID: p.ID, LabelID: p.LabelID, X: p.XPos, Y: p.YPos,
			Tier: p.ZLevel, Status: p.IconSign,
		})
	}
	return out, nil
}

// FindLabel matches name exactly against the children of the label tree.
func FindLabel(groups []model.LabelGroup, name string) (model.Label, bool) {
	for _, g := range groups {
		for _, l := range g.Children {
			if l.Name == name {
				return l, true
			}
		}
	}
	return model.Label{}, false
}

// PointsByLabel keeps the points carrying labelID, in provider order.
func PointsByLabel(points []model.Point, labelID int64) []model.Point {
	var out []model.Point
	for _, p := range points {
		if p.LabelID == labelID {
			out = append(out, p)
		}
	}
	return out
}

// ToPixels converts world coordinates to map pixels by adding the map origin.
func ToPixels(points []model.Point, d model.MapDetail) []model.Point {
	o := model.Vec{X: float64(d.Origin[0]), Y: float64(d.Origin[1])}
	out := make([]model.Point, len(points))
	for i, p := range points {
		out[i] = p.Moved(o)
	}
	return out
}

// IsStatus reports whether err is a provider-side rejection.
func IsStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
