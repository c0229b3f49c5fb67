package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/devlift/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedArtifact(t *testing.T, db *gorm.DB, a domain.Artifact) {
	t.Helper()
	if a.Format == "" {
		a.Format = domain.FormatText
	}
	if a.ExpiresAt.IsZero() {
		a.ExpiresAt = time.Now().UTC().Add(time.Hour)
	}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed %s: %v", a.ID, err)
	}
}

func TestArtifactsStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := ArtifactsStats(context.Background(), db, "u1", ""); err == nil {
		t.Fatalf("expected error due to missing artifacts table")
	}
}

func TestArtifactsStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Artifact{})
	count, maxAt, err := ArtifactsStats(context.Background(), db, "u1", "")
	if err != nil {
		t.Fatalf("ArtifactsStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestArtifactsStats_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Artifact{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	seedArtifact(t, db, domain.Artifact{ID: "a1", UserID: "u1", Service: domain.ServiceReadme, Target: "o/r", UpdatedAt: t1})
	seedArtifact(t, db, domain.Artifact{ID: "a2", UserID: "u1", Service: domain.ServiceStructure, Target: "o/r", UpdatedAt: t2})
	seedArtifact(t, db, domain.Artifact{ID: "a3", UserID: "u2", Service: domain.ServiceReadme, Target: "o/r", UpdatedAt: t3})
	// Expired rows are invisible.
	seedArtifact(t, db, domain.Artifact{ID: "a4", UserID: "u1", Service: domain.ServiceReadme, Target: "o/r",
		UpdatedAt: t2.Add(time.Hour), ExpiresAt: time.Now().UTC().Add(-time.Minute)})

	count, maxAt, err := ArtifactsStats(context.Background(), db, "u1", "")
	if err != nil {
		t.Fatalf("ArtifactsStats: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected (2, %v), got (%d, %v)", t2, count, maxAt)
	}

	count, maxAt, err = ArtifactsStats(context.Background(), db, "u1", domain.ServiceReadme)
	if err != nil {
		t.Fatalf("ArtifactsStats(readme): %v", err)
	}
	if count != 1 || maxAt == nil || !maxAt.Equal(t1) {
		t.Fatalf("expected (1, %v), got (%d, %v)", t1, count, maxAt)
	}
}
