package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

func newGenRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("gen_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateGeneration_Error_NoTable(t *testing.T) {
	db := newGenRepoDB(t /* no migrations */)
	g, err := CreateGeneration(context.Background(), db, "p1", "u1", "req", "[]")
	if err == nil || g != nil {
		t.Fatalf("expected error creating without table, got g=%v err=%v", g, err)
	}
}

func TestCreateGeneration_Success_PersistsAndSetsFields(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})

	start := time.Now().UTC().Add(-time.Minute)
	g, err := CreateGeneration(context.Background(), db, "p1", "u1", "login requirement", `[{"id":"TC-001"}]`)
	if err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	if g.ID == "" || g.ProjectID != "p1" || g.UserID != "u1" {
		t.Fatalf("unexpected Generation fields: %+v", g)
	}
	if g.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", g.CreatedAt)
	}

	var got domain.Generation
	if err := db.First(&got, "id = ?", g.ID).Error; err != nil {
		t.Fatalf("load created generation: %v", err)
	}
	if got.RequirementText != "login requirement" || got.GeneratedResult != `[{"id":"TC-001"}]` {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestFindLatestGeneration_PicksMostRecentMatch(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	old := &domain.Generation{
		ID: "g-old", ProjectID: "p1", UserID: "u1",
		RequirementText: "req", GeneratedResult: "[]",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := db.Create(old).Error; err != nil {
		t.Fatalf("seed old: %v", err)
	}
	newer := &domain.Generation{
		ID: "g-new", ProjectID: "p1", UserID: "u1",
		RequirementText: "req", GeneratedResult: "[]",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(newer).Error; err != nil {
		t.Fatalf("seed new: %v", err)
	}
	// Different requirement text must never match.
	other := &domain.Generation{
		ID: "g-other", ProjectID: "p1", UserID: "u1",
		RequirementText: "different", GeneratedResult: "[]",
		CreatedAt: time.Now().UTC().Add(time.Minute),
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("seed other: %v", err)
	}

	got, err := FindLatestGeneration(ctx, db, "p1", "u1", "req")
	if err != nil {
		t.Fatalf("FindLatestGeneration: %v", err)
	}
	if got.ID != "g-new" {
		t.Fatalf("expected g-new, got %s", got.ID)
	}

	if _, err := FindLatestGeneration(ctx, db, "p1", "u1", "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindLatestGeneration_UserScopeOptional(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	g := &domain.Generation{
		ID: "g1", ProjectID: "p1", UserID: "u2",
		RequirementText: "req", GeneratedResult: "[]",
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := FindLatestGeneration(ctx, db, "p1", "", "req"); err != nil {
		t.Fatalf("unscoped lookup should match: %v", err)
	}
	if _, err := FindLatestGeneration(ctx, db, "p1", "u1", "req"); err != ErrNotFound {
		t.Fatalf("scoped lookup for wrong user should miss, got %v", err)
	}
}

func TestReplaceGenerationResult(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	g, err := CreateGeneration(ctx, db, "p1", "u1", "req", "[]")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ReplaceGenerationResult(ctx, db, g.ID, `[{"id":"TC-001"}]`); err != nil {
		t.Fatalf("ReplaceGenerationResult: %v", err)
	}
	var got domain.Generation
	if err := db.First(&got, "id = ?", g.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.GeneratedResult != `[{"id":"TC-001"}]` {
		t.Fatalf("payload not replaced: %s", got.GeneratedResult)
	}

	if err := ReplaceGenerationResult(ctx, db, "nope", "[]"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestMergeAppendGeneration_NeverShrinksPriorData(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	prior := []domain.TestCase{
		{ID: "TC-001", Description: "a", Preconditions: []string{}, Steps: []string{"s"}, Priority: domain.PriorityP1},
		{ID: "TC-002", Description: "b", Preconditions: []string{}, Steps: []string{"s"}, Priority: domain.PriorityP1},
	}
	payload, _ := json.Marshal(prior)
	g, err := CreateGeneration(ctx, db, "p1", "u1", "req", string(payload))
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	extra := []domain.TestCase{
		{ID: "TC-003", Description: "c", Preconditions: []string{}, Steps: []string{"s"}, Priority: domain.PriorityP2},
	}
	if err := MergeAppendGeneration(ctx, db, g.ID, extra); err != nil {
		t.Fatalf("MergeAppendGeneration: %v", err)
	}

	var got domain.Generation
	if err := db.First(&got, "id = ?", g.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	var merged []domain.TestCase
	if err := json.Unmarshal([]byte(got.GeneratedResult), &merged); err != nil {
		t.Fatalf("decode merged payload: %v", err)
	}
	if len(merged) != 3 {
		t.Fatalf("expected 3 cases after merge, got %d", len(merged))
	}
	// Pre-existing items are a prefix of the merged list.
	for i, want := range prior {
		if merged[i].ID != want.ID || merged[i].Description != want.Description {
			t.Fatalf("prior case %d changed: %+v", i, merged[i])
		}
	}
	if merged[2].ID != "TC-003" {
		t.Fatalf("appended case missing: %+v", merged[2])
	}
}

func TestMergeAppendGeneration_CorruptPayloadTreatedAsEmpty(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	g, err := CreateGeneration(ctx, db, "p1", "u1", "req", "{not json")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	extra := []domain.TestCase{{ID: "TC-001", Preconditions: []string{}, Steps: []string{"s"}, Priority: domain.PriorityP1}}
	if err := MergeAppendGeneration(ctx, db, g.ID, extra); err != nil {
		t.Fatalf("MergeAppendGeneration: %v", err)
	}
	var got domain.Generation
	if err := db.First(&got, "id = ?", g.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	var merged []domain.TestCase
	if err := json.Unmarshal([]byte(got.GeneratedResult), &merged); err != nil {
		t.Fatalf("decode merged payload: %v", err)
	}
	if len(merged) != 1 || merged[0].ID != "TC-001" {
		t.Fatalf("unexpected merged payload: %+v", merged)
	}
}

func TestListGenerationsPage_And_Count(t *testing.T) {
	db := newGenRepoDB(t, &domain.Generation{})
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		g := &domain.Generation{
			ID:              fmt.Sprintf("g%d", i),
			ProjectID:       "p1",
			UserID:          "u1",
			RequirementText: fmt.Sprintf("req %d", i),
			GeneratedResult: "[]",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(g).Error; err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	total, err := CountGenerations(ctx, db, "p1")
	if err != nil || total != 5 {
		t.Fatalf("CountGenerations = %d, %v", total, err)
	}

	page, err := ListGenerationsPage(ctx, db, "p1", 0, 2)
	if err != nil {
		t.Fatalf("ListGenerationsPage: %v", err)
	}
	if len(page) != 2 || page[0].ID != "g4" || page[1].ID != "g3" {
		t.Fatalf("unexpected first page: %+v", page)
	}

	page, err = ListGenerationsPage(ctx, db, "p1", 4, 2)
	if err != nil || len(page) != 1 || page[0].ID != "g0" {
		t.Fatalf("unexpected last page: %+v err=%v", page, err)
	}
}
