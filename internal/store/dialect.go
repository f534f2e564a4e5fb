package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the few differences between the Postgres and SQLite backends.
// Queries are written with `?` placeholders and rebound per dialect.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// sqliteTimeLayout is fixed width so TEXT columns compare in time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func (d Dialect) String() string {
	if d == SQLite {
		return DriverSQLite
	}
	return DriverPostgres
}

// Rebind rewrites `?` placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Time converts an application timestamp into a query argument.
func (d Dialect) Time(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// TimestampType is the column type used for timestamps.
func (d Dialect) TimestampType() string {
	if d == SQLite {
		return "TEXT"
	}
	return "TIMESTAMPTZ"
}

// Time scans timestamps from either backend.
type Time struct {
	time.Time
}

// Scan implements sql.Scanner.
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func (t *Time) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognised format %q", s)
}

// NullTime scans nullable timestamps.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullTime) Scan(src any) error {
	if src == nil {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	var t Time
	if err := t.Scan(src); err != nil {
		return err
	}
	n.Time, n.Valid = t.Time, true
	return nil
}

// Ptr returns the time or nil.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// NullTimeArg converts an optional timestamp into a query argument.
func (d Dialect) NullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.Time(*t)
}
