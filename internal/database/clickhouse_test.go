package database

import (
	"attribution/internal/types"
	"context"
	"database/sql"
	"sync"
	"testing"
)

func TestLocateWithoutGeoIP(t *testing.T) {
	a := &Analytics{}
	for _, ip := range []string{"", "203.0.113.9", "not-an-ip"} {
		country, city := a.locate(ip)
		if country != unknownLocation || city != unknownLocation {
			t.Fatalf("%q: expected unknown location, got %s/%s", ip, country, city)
		}
	}
}

func TestPushTouchDropsWhenBufferFull(t *testing.T) {
	a := &Analytics{touchesBuffer: make(chan types.TouchData, 2)}
	for i := 0; i < 5; i++ {
		a.PushTouch(types.TouchData{VisitorID: "v1"})
	}
	if got := len(a.touchesBuffer); got != 2 {
		t.Fatalf("expected buffer to hold 2 touches, got %d", got)
	}
}

func newTestAnalytics(t *testing.T) (*Analytics, func() []types.TouchData) {
	t.Helper()
	// sql.Open does not dial, so Close works without a server.
	conn, err := sql.Open("clickhouse", "clickhouse://127.0.0.1:9000/default")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}

	var (
		mu       sync.Mutex
		recorded []types.TouchData
	)
	a := &Analytics{
		db:            conn,
		touchesBuffer: make(chan types.TouchData, touchBufferSize),
	}
	a.insert = func(_ context.Context, touches []types.TouchData) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, touches...)
		return nil
	}
	return a, func() []types.TouchData {
		mu.Lock()
		defer mu.Unlock()
		return recorded
	}
}

func TestCloseFlushesPendingTouches(t *testing.T) {
	a, recorded := newTestAnalytics(t)
	a.Start(context.Background())

	for _, id := range []string{"v1", "v2", "v3"} {
		a.PushTouch(types.TouchData{VisitorID: id})
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := recorded(); len(got) != 3 {
		t.Fatalf("expected 3 flushed touches, got %d", len(got))
	}
}

func TestPushTouchAfterCloseIsDropped(t *testing.T) {
	a, recorded := newTestAnalytics(t)
	a.Start(context.Background())
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a.PushTouch(types.TouchData{VisitorID: "late"})
	if len(a.touchesBuffer) != 0 || len(recorded()) != 0 {
		t.Fatal("touch pushed after Close must be dropped")
	}
}

func TestCancelledContextFlushesPendingTouches(t *testing.T) {
	a, recorded := newTestAnalytics(t)
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)

	a.PushTouch(types.TouchData{VisitorID: "v1"})
	cancel()
	<-a.done

	if got := recorded(); len(got) != 1 {
		t.Fatalf("expected 1 flushed touch, got %d", len(got))
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close after worker exit: %v", err)
	}
}
