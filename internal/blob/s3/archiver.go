package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the archive size above which uploads switch to
// multipart.
const multipartThreshold = 64 * 1024 * 1024

// JournalArchiveStore is the part of the receipt journal the archiver needs.
type JournalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ReceiptEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ReceiptArchiver implements domain.Archiver. It uploads journaled
// receipts older than a cutoff as one JSONL object, then removes them from
// the journal. Rows are only deleted after the upload succeeded.
type ReceiptArchiver struct {
	writer  domain.BlobWriter
	journal JournalArchiveStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates a ReceiptArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, journal JournalArchiveStore, audit domain.AuditStore, logger *slog.Logger) *ReceiptArchiver {
	return &ReceiptArchiver{
		writer:  writer,
		journal: journal,
		audit:   audit,
		logger:  logger.With(slog.String("component", "receipt_archiver")),
	}
}

// ArchiveReceipts archives every receipt journaled before the cutoff to
// archive/receipts/YYYY-MM-DD.jsonl and returns the number archived.
func (a *ReceiptArchiver) ArchiveReceipts(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.journal.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts marshal: %w", err)
	}

	path := archivePath("receipts", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts upload: %w", err)
	}

	deleted, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive receipts prune: %w", err)
	}
	count := int64(len(entries))
	if deleted != count {
		a.logger.WarnContext(ctx, "archived and pruned receipt counts differ",
			slog.Int64("archived", count),
			slog.Int64("pruned", deleted),
		)
	}

	if a.audit != nil {
		err := a.audit.Log(ctx, "archive.receipts", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		})
		if err != nil {
			return count, fmt.Errorf("s3blob: archive receipts audit log: %w", err)
		}
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// day of the cutoff.
//
//	archive/receipts/2030-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ReceiptArchiver)(nil)
