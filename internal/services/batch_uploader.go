package services

import (
	"context"
	"fmt"
	"time"

	"catalog-sync-service/internal/clients"
	"catalog-sync-service/internal/models"
	"catalog-sync-service/internal/report"
)

// MaxBatchSize is the largest number of items the remote accepts per side of a batch call
const MaxBatchSize = 100

// Chunk splits items into contiguous runs of at most size, preserving order
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// BatchUploader pushes a batch to the remote catalog in size-limited calls
type BatchUploader struct {
	client      clients.CatalogClient
	chunkSize   int
	callTimeout time.Duration
	reporter    report.Reporter
}

// NewBatchUploader creates an uploader; chunkSize is clamped to 1..MaxBatchSize
func NewBatchUploader(client clients.CatalogClient, chunkSize int, reporter report.Reporter) *BatchUploader {
	if chunkSize <= 0 || chunkSize > MaxBatchSize {
		chunkSize = MaxBatchSize
	}
	if reporter == nil {
		reporter = report.Nop
	}
	return &BatchUploader{client: client, chunkSize: chunkSize, reporter: reporter}
}

// WithCallTimeout bounds each remote call; zero leaves calls unbounded
func (u *BatchUploader) WithCallTimeout(d time.Duration) *BatchUploader {
	u.callTimeout = d
	return u
}

func (u *BatchUploader) send(ctx context.Context, batch models.Batch) (*models.BatchResult, error) {
	if u.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.callTimeout)
		defer cancel()
	}
	return u.client.UploadBatch(ctx, batch)
}

// ChunkSize returns the effective chunk size
func (u *BatchUploader) ChunkSize() int {
	return u.chunkSize
}

// Upload sends the batch. When both sides fit in one call the result is
// returned as the remote gave it. Otherwise creations go first, then
// updates, one call per chunk. Any failed call aborts the upload and
// nothing is returned, even if earlier chunks were accepted.
func (u *BatchUploader) Upload(ctx context.Context, batch models.Batch) (*models.BatchResult, error) {
	if batch.IsEmpty() {
		return &models.BatchResult{}, nil
	}

	if len(batch.Create) <= u.chunkSize && len(batch.Update) <= u.chunkSize {
		report.Info(u.reporter, "Uploading batch", map[string]interface{}{
			"create": len(batch.Create),
			"update": len(batch.Update),
		})
		result, err := u.send(ctx, batch)
		if err != nil {
			return nil, &report.UploadFault{Side: "batch", Chunk: 1, Chunks: 1, Err: err}
		}
		if result == nil {
			result = &models.BatchResult{}
		}
		return result, nil
	}

	aggregate := &models.BatchResult{}

	createChunks := Chunk(batch.Create, u.chunkSize)
	for i, chunk := range createChunks {
		report.Info(u.reporter, fmt.Sprintf("Uploading create batch of %d products", len(chunk)), map[string]interface{}{
			"chunk":  i + 1,
			"chunks": len(createChunks),
		})
		result, err := u.send(ctx, models.Batch{Create: chunk})
		if err != nil {
			return nil, &report.UploadFault{Side: "create", Chunk: i + 1, Chunks: len(createChunks), Err: err}
		}
		if result != nil {
			aggregate.Append(*result)
		}
	}

	updateChunks := Chunk(batch.Update, u.chunkSize)
	for i, chunk := range updateChunks {
		report.Info(u.reporter, fmt.Sprintf("Uploading update batch of %d products", len(chunk)), map[string]interface{}{
			"chunk":  i + 1,
			"chunks": len(updateChunks),
		})
		result, err := u.send(ctx, models.Batch{Update: chunk})
		if err != nil {
			return nil, &report.UploadFault{Side: "update", Chunk: i + 1, Chunks: len(updateChunks), Err: err}
		}
		if result != nil {
			aggregate.Append(*result)
		}
	}

	return aggregate, nil
}
