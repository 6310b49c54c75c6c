package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaforge/internal/models"
)

type dataset struct {
	Assets map[string]models.Asset `json:"assets"`
}

// MemoryRepository keeps asset records in memory, optionally persisted to a
// JSON file after every mutation. It backs development deployments and the
// test suite; the persistence write is atomic (temp file + rename) so a
// crash mid-write never corrupts the dataset.
type MemoryRepository struct {
	mu   sync.RWMutex
	path string
	data dataset
}

// NewMemoryRepository loads the dataset from path when it exists. An empty
// path keeps the repository purely in-memory.
func NewMemoryRepository(path string) (*MemoryRepository, error) {
	repo := &MemoryRepository{
		path: strings.TrimSpace(path),
		data: dataset{Assets: make(map[string]models.Asset)},
	}
	if repo.path == "" {
		return repo, nil
	}
	raw, err := os.ReadFile(repo.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return repo, nil
		}
		return nil, fmt.Errorf("read datastore: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &repo.data); err != nil {
			return nil, fmt.Errorf("decode datastore: %w", err)
		}
	}
	if repo.data.Assets == nil {
		repo.data.Assets = make(map[string]models.Asset)
	}
	return repo, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) CreateAsset(params CreateAssetParams) (models.Asset, error) {
	kind := params.Kind
	if !kind.Valid() {
		return models.Asset{}, fmt.Errorf("invalid asset kind %q", kind)
	}
	bucket := strings.TrimSpace(params.Bucket)
	objectKey := strings.TrimSpace(params.ObjectKey)
	if bucket == "" || objectKey == "" {
		return models.Asset{}, fmt.Errorf("bucket and object key are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	asset := models.Asset{
		ID:          uuid.NewString(),
		Kind:        kind,
		Bucket:      bucket,
		ObjectKey:   objectKey,
		ContentType: strings.TrimSpace(params.ContentType),
		FileName:    strings.TrimSpace(params.FileName),
		FileSize:    params.FileSize,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.data.Assets[asset.ID] = asset
	if err := r.persistLocked(); err != nil {
		delete(r.data.Assets, asset.ID)
		return models.Asset{}, err
	}
	return cloneAsset(asset), nil
}

func (r *MemoryRepository) GetAsset(id string) (models.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, ok := r.data.Assets[id]
	if !ok {
		return models.Asset{}, false
	}
	return cloneAsset(asset), true
}

func (r *MemoryRepository) UpdateAsset(id string, update AssetUpdate) (models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.data.Assets[id]
	if !ok {
		return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
	}

	original := asset
	updated := applyAssetUpdate(asset, update)
	updated.UpdatedAt = time.Now().UTC()

	r.data.Assets[id] = updated
	if err := r.persistLocked(); err != nil {
		r.data.Assets[id] = original
		return models.Asset{}, err
	}
	return cloneAsset(updated), nil
}

func (r *MemoryRepository) ListAssetsByStatus(statuses ...models.ProcessingStatus) []models.Asset {
	wanted := make(map[models.ProcessingStatus]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	assets := make([]models.Asset, 0)
	for _, asset := range r.data.Assets {
		if len(wanted) > 0 {
			if _, ok := wanted[asset.Status]; !ok {
				continue
			}
		}
		assets = append(assets, cloneAsset(asset))
	}
	sort.Slice(assets, func(i, j int) bool {
		if assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].ID < assets[j].ID
		}
		return assets[i].CreatedAt.Before(assets[j].CreatedAt)
	})
	return assets
}

func (r *MemoryRepository) DeleteAsset(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, ok := r.data.Assets[id]
	if !ok {
		return fmt.Errorf("asset %s: %w", id, ErrAssetNotFound)
	}
	delete(r.data.Assets, id)
	if err := r.persistLocked(); err != nil {
		r.data.Assets[id] = asset
		return err
	}
	return nil
}

func (r *MemoryRepository) Close() {}

func (r *MemoryRepository) persistLocked() error {
	if r.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("prepare datastore dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), "assets-*.tmp")
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), r.path)
}
