package storage

import (
	"context"
	"fmt"

	"github.com/insightflow/ml-studio-backend/config"
	"github.com/insightflow/ml-studio-backend/repository"
)

// DatasetStore resolves dataset references to metadata and raw bytes.
// Metadata lives in the database, raw CSV content in object storage.
type DatasetStore struct {
	repo   *repository.Repository
	minio  *MinIOClient
	bucket string
}

// NewDatasetStore creates a dataset store backed by the repository and MinIO
func NewDatasetStore(repo *repository.Repository, minio *MinIOClient, bucket string) *DatasetStore {
	return &DatasetStore{repo: repo, minio: minio, bucket: bucket}
}

// Get fetches dataset metadata by ID, scoped to its owner
func (s *DatasetStore) Get(ctx context.Context, owner, id string) (*config.Dataset, error) {
	return s.repo.GetDataset(owner, id)
}

// Download fetches the raw bytes of a dataset
func (s *DatasetStore) Download(ctx context.Context, ds *config.Dataset) ([]byte, error) {
	if ds.FilePath == "" {
		return nil, fmt.Errorf("dataset %s has no raw data location", ds.ID)
	}
	return s.minio.Download(ctx, s.bucket, ds.FilePath)
}

// Put stores raw dataset bytes and returns the object key
func (s *DatasetStore) Put(ctx context.Context, owner, datasetID string, data []byte) (string, error) {
	objectKey := fmt.Sprintf("%s/%s.csv", owner, datasetID)
	if err := s.minio.Upload(ctx, s.bucket, objectKey, data, "text/csv"); err != nil {
		return "", err
	}
	return objectKey, nil
}
