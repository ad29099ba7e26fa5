package invalidation

import (
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestCommand_Validate(t *testing.T) {
	ok := []Command{
		{Version: 1, Op: OpRebuild, MapID: 2, TS: mustTS()},
		{Version: 1, Op: OpPurge, MapID: 2, TS: mustTS()},
		{Version: 1, Op: OpPurge, MapID: 9, Resource: "Cor/Lapis", TS: mustTS()},
	}
	for _, c := range ok {
		if err := c.Validate(); err != nil {
			t.Errorf("%+v: unexpected %v", c, err)
		}
	}

	bad := []Command{
		{Version: 2, Op: OpRebuild, MapID: 2, TS: mustTS()},
		{Version: 1, Op: "delete", MapID: 2, TS: mustTS()},
		{Version: 1, Op: OpRebuild, MapID: 2, Resource: "x", TS: mustTS()},
		{Version: 1, Op: OpPurge, MapID: 0, TS: mustTS()},
		{Version: 1, Op: OpPurge, MapID: 2},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("%+v: expected error", c)
		}
	}
}

func TestDecode(t *testing.T) {
	c, err := Decode([]byte(`{"version":1,"op":"purge","map_id":2,"resource":"Sweet Flower","ts":"2025-10-26T12:30:45Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Op != OpPurge || c.MapID != 2 || c.Resource != "Sweet Flower" || !c.TS.Equal(mustTS()) {
		t.Fatalf("command=%+v", c)
	}
	if _, err := Decode([]byte(`{"version":1,`)); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := Decode([]byte(`{"version":1,"op":"rebuild","map_id":2}`)); err == nil {
		t.Fatal("expected validation error")
	}
}
