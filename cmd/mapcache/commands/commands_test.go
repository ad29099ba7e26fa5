package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	c := New("1.2.3")
	c.SetOutput(&out)
	c.SetArgs([]string{"version"})
	if err := c.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "mapcache version 1.2.3" {
		t.Fatalf("out=%q", got)
	}
}

func TestRebuild_RejectsBadID(t *testing.T) {
	c := New("test")
	c.SetOutput(&bytes.Buffer{})
	c.SetArgs([]string{"rebuild", "two"})
	err := c.Execute(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid map id") {
		t.Fatalf("err=%v", err)
	}
}

func TestRender_RequiresResource(t *testing.T) {
	c := New("test")
	c.SetOutput(&bytes.Buffer{})
	c.SetArgs([]string{"render"})
	if err := c.Execute(context.Background()); err == nil {
		t.Fatal("expected args error")
	}
}

func TestSetup_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "info")
	c := New("test")
	c.SetOutput(&bytes.Buffer{})
	c.SetArgs([]string{"--log-level", "debug", "--maps", "maps.yaml", "rebuild", "x"})
	_ = c.Execute(context.Background())
	if c.cfg.LogLevel != "debug" || c.cfg.MapsFile != "maps.yaml" {
		t.Fatalf("cfg=%+v", c.cfg)
	}
}
