package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gocloud.dev/blob"

	"github.com/runhawk/engine/pkg/api"
)

type (
	// Archiver writes finished executions to a blob bucket as a single
	// JSON document per execution
	Archiver struct {
		bucket *blob.Bucket
	}

	// Document is the archived form of a finished execution, bundling
	// the execution record with its step rows and log entries
	Document struct {
		Execution  *api.Execution    `json:"execution"`
		Steps      []*api.StepResult `json:"steps,omitempty"`
		Logs       []*api.LogEntry   `json:"logs,omitempty"`
		ArchivedAt time.Time         `json:"archived_at"`
	}
)

const keyPrefix = "executions/"

var ErrNoBucket = errors.New("archive bucket not configured")

// New opens the bucket named by url. The scheme selects the provider
// driver registered with gocloud, so s3://, gs://, azblob:// and mem://
// all work given the matching driver import
func New(ctx context.Context, url string) (*Archiver, error) {
	if url == "" {
		return nil, ErrNoBucket
	}
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening archive bucket: %w", err)
	}
	return NewWithBucket(bucket), nil
}

// NewWithBucket wraps an already-open bucket
func NewWithBucket(bucket *blob.Bucket) *Archiver {
	return &Archiver{bucket: bucket}
}

// Close releases the underlying bucket
func (a *Archiver) Close() error {
	return a.bucket.Close()
}

// ArchiveExecution serializes the execution and its attendant records
// into one document at executions/<id>.json. Writing the same execution
// twice overwrites, which keeps the operation safe to retry
func (a *Archiver) ArchiveExecution(
	ctx context.Context, ex *api.Execution,
	steps []*api.StepResult, logs []*api.LogEntry,
) error {
	doc := &Document{
		Execution:  ex,
		Steps:      steps,
		Logs:       logs,
		ArchivedAt: time.Now(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding archive document: %w", err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(ctx, Key(ex.ID), data, opts); err != nil {
		return fmt.Errorf("writing archive document: %w", err)
	}
	return nil
}

// Load reads an archived execution document back from the bucket
func (a *Archiver) Load(
	ctx context.Context, id api.ExecutionID,
) (*Document, error) {
	data, err := a.bucket.ReadAll(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("reading archive document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding archive document: %w", err)
	}
	return &doc, nil
}

// Key returns the bucket key for an execution's archive document
func Key(id api.ExecutionID) string {
	return keyPrefix + string(id) + ".json"
}
