package postgres

import "testing"

func TestNumeric(t *testing.T) {
	n, err := numeric("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	if err != nil {
		t.Fatalf("numeric: %v", err)
	}
	if !n.Valid || n.Exp != 0 || n.Int.BitLen() != 256 {
		t.Fatalf("unexpected numeric: %+v", n)
	}

	zero, err := numeric("")
	if err != nil || zero.Int.Sign() != 0 {
		t.Fatalf("empty value should be zero, got %+v %v", zero, err)
	}

	if _, err := numeric("1.5"); err == nil {
		t.Fatalf("expected error for fractional value")
	}
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("2024-03-01T12:00:00.5Z")
	if err != nil {
		t.Fatalf("parseTime: %v", err)
	}
	if ts.Nanosecond() != 500000000 {
		t.Fatalf("unexpected nanos: %d", ts.Nanosecond())
	}
	if _, err := parseTime(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}
