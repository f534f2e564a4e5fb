package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ? LIMIT ?"
	if got := SQLite.Rebind(q); got != q {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b = $2 LIMIT $3"
	if got := Postgres.Rebind(q); got != want {
		t.Fatalf("postgres rebind = %q, want %q", got, want)
	}
}

func TestSQLiteTimeOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := SQLite.Time(base).(string)
	b := SQLite.Time(base.Add(time.Millisecond)).(string)
	c := SQLite.Time(base.Add(time.Second)).(string)
	if !(a < b && b < c) {
		t.Fatalf("timestamps do not sort lexically: %s %s %s", a, b, c)
	}

	var parsed Time
	if err := parsed.Scan(b); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !parsed.Equal(base.Add(time.Millisecond)) {
		t.Fatalf("round trip = %s", parsed.Time)
	}
}

func TestNullTimeScan(t *testing.T) {
	var n NullTime
	if err := n.Scan(nil); err != nil || n.Valid || n.Ptr() != nil {
		t.Fatalf("nil scan: %+v %v", n, err)
	}
	now := time.Now().UTC()
	if err := n.Scan(now); err != nil || !n.Valid || !n.Ptr().Equal(now) {
		t.Fatalf("time scan: %+v %v", n, err)
	}
	if err := n.Scan(42); err == nil {
		t.Fatal("expected error for int source")
	}
}

func TestInitSchemaSQLite(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "rollcall.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	// idempotent
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("second init schema: %v", err)
	}
	if !db.Healthy(ctx) {
		t.Fatal("expected healthy db")
	}

	var n int
	if err := db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records`).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewRedisParsesURL(t *testing.T) {
	r, err := NewRedis("redis://:secret@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer r.Close()
	opts := r.Client.Options()
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("unexpected options: addr=%s db=%d", opts.Addr, opts.DB)
	}
	if _, err := NewRedis("redis://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
}
