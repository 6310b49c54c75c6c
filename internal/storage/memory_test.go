package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"mediaforge/internal/models"
)

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo, err := NewMemoryRepository(filepath.Join(t.TempDir(), "assets.json"))
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	return repo
}

func createTestAsset(t *testing.T, repo Repository, kind models.AssetKind) models.Asset {
	t.Helper()
	asset, err := repo.CreateAsset(CreateAssetParams{
		Kind:      kind,
		Bucket:    "media",
		ObjectKey: "raw/sample.bin",
		FileName:  "sample.bin",
		FileSize:  2048,
	})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	return asset
}

func TestCreateAssetValidatesInput(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := repo.CreateAsset(CreateAssetParams{Kind: "gif", Bucket: "media", ObjectKey: "raw/a"}); err == nil {
		t.Fatal("expected error for invalid kind")
	}
	if _, err := repo.CreateAsset(CreateAssetParams{Kind: models.KindVideo, ObjectKey: "raw/a"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if _, err := repo.CreateAsset(CreateAssetParams{Kind: models.KindVideo, Bucket: "media"}); err == nil {
		t.Fatal("expected error for missing object key")
	}
}

func TestCreateAssetStartsQueued(t *testing.T) {
	repo := newTestRepo(t)
	asset := createTestAsset(t, repo, models.KindVideo)

	if asset.ID == "" {
		t.Fatal("expected generated id")
	}
	if asset.Status != models.StatusQueued {
		t.Fatalf("expected queued status, got %s", asset.Status)
	}
	stored, ok := repo.GetAsset(asset.ID)
	if !ok {
		t.Fatal("expected asset to be retrievable")
	}
	if stored.ObjectKey != "raw/sample.bin" {
		t.Fatalf("unexpected object key %q", stored.ObjectKey)
	}
}

func TestUpdateAssetMergesCheckpointEntries(t *testing.T) {
	repo := newTestRepo(t)
	asset := createTestAsset(t, repo, models.KindVideo)

	if _, err := repo.UpdateAsset(asset.ID, AssetUpdate{HLSParts: map[string]bool{"240p": true}}); err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	updated, err := repo.UpdateAsset(asset.ID, AssetUpdate{HLSParts: map[string]bool{"360p": true, "480p": false}})
	if err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}

	if !updated.Variants.HLSParts["240p"] || !updated.Variants.HLSParts["360p"] {
		t.Fatalf("expected merged checkpoint, got %v", updated.Variants.HLSParts)
	}
	if _, ok := updated.Variants.HLSParts["480p"]; ok {
		t.Fatal("false entries must not be recorded")
	}

	// Replaying an already-recorded rendition is a no-op.
	replayed, err := repo.UpdateAsset(asset.ID, AssetUpdate{HLSParts: map[string]bool{"240p": true}})
	if err != nil {
		t.Fatalf("UpdateAsset replay: %v", err)
	}
	if len(replayed.Variants.HLSParts) != 2 {
		t.Fatalf("expected 2 checkpoint entries, got %d", len(replayed.Variants.HLSParts))
	}
}

func TestUpdateAssetClampsProgress(t *testing.T) {
	repo := newTestRepo(t)
	asset := createTestAsset(t, repo, models.KindAudio)

	over := 140.0
	updated, err := repo.UpdateAsset(asset.ID, AssetUpdate{Progress: &over})
	if err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	if updated.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %f", updated.Progress)
	}

	under := -5.0
	updated, err = repo.UpdateAsset(asset.ID, AssetUpdate{Progress: &under})
	if err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	if updated.Progress != 0 {
		t.Fatalf("expected progress clamped to 0, got %f", updated.Progress)
	}
}

func TestUpdateAssetUnknownID(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.UpdateAsset("missing", AssetUpdate{}); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestListAssetsByStatusFilters(t *testing.T) {
	repo := newTestRepo(t)
	first := createTestAsset(t, repo, models.KindVideo)
	second := createTestAsset(t, repo, models.KindImage)

	running := models.StatusRunning
	if _, err := repo.UpdateAsset(second.ID, AssetUpdate{Status: &running}); err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}

	queued := repo.ListAssetsByStatus(models.StatusQueued)
	if len(queued) != 1 || queued[0].ID != first.ID {
		t.Fatalf("expected only the queued asset, got %d entries", len(queued))
	}
	all := repo.ListAssetsByStatus()
	if len(all) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(all))
	}
}

func TestDeleteAsset(t *testing.T) {
	repo := newTestRepo(t)
	asset := createTestAsset(t, repo, models.KindFile)

	if err := repo.DeleteAsset(asset.ID); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if _, ok := repo.GetAsset(asset.ID); ok {
		t.Fatal("expected asset to be gone")
	}
	if err := repo.DeleteAsset(asset.ID); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestDatasetSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assets.json")
	repo, err := NewMemoryRepository(path)
	if err != nil {
		t.Fatalf("NewMemoryRepository: %v", err)
	}
	asset := createTestAsset(t, repo, models.KindVideo)

	done := models.StatusDone
	master := "processed/x/master.m3u8"
	if _, err := repo.UpdateAsset(asset.ID, AssetUpdate{
		Status:   &done,
		Master:   &master,
		HLSParts: map[string]bool{"360p": true},
	}); err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	repo.Close()

	reloaded, err := NewMemoryRepository(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	stored, ok := reloaded.GetAsset(asset.ID)
	if !ok {
		t.Fatal("expected asset after reload")
	}
	if stored.Status != models.StatusDone {
		t.Fatalf("expected done status, got %s", stored.Status)
	}
	if !stored.Variants.HLSParts["360p"] {
		t.Fatal("expected checkpoint entry to survive reload")
	}
	if stored.Variants.Master != master {
		t.Fatalf("unexpected master %q", stored.Variants.Master)
	}
}

func TestGetAssetReturnsClone(t *testing.T) {
	repo := newTestRepo(t)
	asset := createTestAsset(t, repo, models.KindVideo)

	if _, err := repo.UpdateAsset(asset.ID, AssetUpdate{HLSParts: map[string]bool{"240p": true}}); err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	first, _ := repo.GetAsset(asset.ID)
	first.Variants.HLSParts["720p"] = true

	second, _ := repo.GetAsset(asset.ID)
	if _, ok := second.Variants.HLSParts["720p"]; ok {
		t.Fatal("mutating a returned asset must not affect the store")
	}
}

func TestPingHonoursContext(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := repo.Ping(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
