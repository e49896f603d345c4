package maildir

import (
	"strings"
	"testing"
	"time"
)

func TestNewMidDistinct(t *testing.T) {
	a := NewMid("host1")
	b := NewMid("host1")
	if a == b {
		t.Fatalf("expected distinct mids, got %q twice", a)
	}
	if !strings.HasSuffix(a, ".host1") || !strings.HasSuffix(b, ".host1") {
		t.Fatalf("mids must end in .host1: %q %q", a, b)
	}
}

func TestNewMidWithDateFormat(t *testing.T) {
	now := time.Unix(1700000000, 0)
	mid := NewMidWithDate("myhost", now)
	parts := strings.Split(mid, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 dot-separated fields, got %q", mid)
	}
	if parts[0] != "1700000000" {
		t.Fatalf("expected epoch prefix 1700000000, got %q", parts[0])
	}
	if !strings.HasPrefix(parts[1], "g") {
		t.Fatalf("expected guid field to start with g, got %q", parts[1])
	}
	if parts[2] != "myhost" {
		t.Fatalf("expected host_id suffix myhost, got %q", parts[2])
	}
	for _, c := range parts[1][1:] {
		if c >= 'A' && c <= 'Z' {
			t.Fatalf("expected lower-cased guid, got %q", parts[1])
		}
	}
}

func TestInternalDateFromMid(t *testing.T) {
	mid := "1700000000.42.host1"
	tm, ok := InternalDateFromMid(mid)
	if !ok {
		t.Fatalf("expected ok")
	}
	if tm.Unix() != 1700000000 {
		t.Fatalf("expected unix time 1700000000, got %d", tm.Unix())
	}

	if _, ok := InternalDateFromMid("garbage"); ok {
		t.Fatalf("expected not ok for mid with no dot")
	}
}
