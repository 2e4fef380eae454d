package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLimit_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records", nil)

	limit, err := parseLimit(req, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, limit)
	}
}

func TestParseLimit_CustomValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records?limit=50", nil)

	limit, err := parseLimit(req, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limit != 50 {
		t.Errorf("expected limit 50, got %d", limit)
	}
}

func TestParseLimit_ExceedsMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records?limit=2000", nil)

	_, err := parseLimit(req, "limit", DefaultLimit, MaxLimit)
	if err == nil {
		t.Fatal("expected error for limit exceeding max, got nil")
	}

	expected := "limit exceeds maximum of 1000"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestParseLimit_AtMax(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records?limit=1000", nil)

	limit, err := parseLimit(req, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limit != MaxLimit {
		t.Errorf("expected limit %d, got %d", MaxLimit, limit)
	}
}

func TestParseLimit_Negative(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records?limit=-1", nil)

	if _, err := parseLimit(req, "limit", DefaultLimit, MaxLimit); err == nil {
		t.Fatal("expected error for negative limit, got nil")
	}
}

func TestParseLimit_Invalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records?limit=abc", nil)

	if _, err := parseLimit(req, "limit", DefaultLimit, MaxLimit); err == nil {
		t.Fatal("expected error for invalid limit, got nil")
	}
}

func TestParseLimit_Zero(t *testing.T) {
	// limit=0 should be treated as "use default"
	req := httptest.NewRequest(http.MethodGet, "/records?limit=0", nil)

	limit, err := parseLimit(req, "limit", DefaultLimit, MaxLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if limit != DefaultLimit {
		t.Errorf("expected default limit %d for limit=0, got %d", DefaultLimit, limit)
	}
}

func TestParseLimit_BucketSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/records/aggregations?size=5000", nil)

	_, err := parseLimit(req, "size", DefaultBuckets, MaxBuckets)
	if err == nil || err.Error() != "size exceeds maximum of 1000" {
		t.Errorf("unexpected error: %v", err)
	}
}
