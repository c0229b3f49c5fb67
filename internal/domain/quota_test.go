package domain

import (
	"testing"
	"time"
)

func TestParseService(t *testing.T) {
	for _, svc := range Services() {
		got, err := ParseService(string(svc))
		if err != nil || got != svc {
			t.Fatalf("ParseService(%q) = %q, %v", svc, got, err)
		}
	}
	if _, err := ParseService("roast"); err == nil {
		t.Fatalf("expected error for unknown service")
	}
	if _, err := ParseService("README"); err == nil {
		t.Fatalf("service names are case-sensitive")
	}
}

func TestQuotaRecord_Expired_AtBoundary(t *testing.T) {
	reset := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := QuotaRecord{WindowResetAt: reset}

	if r.Expired(reset.Add(-time.Nanosecond)) {
		t.Fatalf("record must be live before reset")
	}
	if !r.Expired(reset) {
		t.Fatalf("record must expire exactly at reset")
	}
	if !r.Expired(reset.Add(time.Second)) {
		t.Fatalf("record must be expired after reset")
	}
}

func TestQuotaRecord_TableName(t *testing.T) {
	if (QuotaRecord{}).TableName() != "quota_records" {
		t.Fatalf("unexpected table name")
	}
	if (Artifact{}).TableName() != "artifacts" || (Document{}).TableName() != "documents" {
		t.Fatalf("unexpected table names")
	}
}
