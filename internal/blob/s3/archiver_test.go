package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolsettle/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, contentTypeJSONL)
}

type memJournal struct {
	entries []domain.ReceiptEntry
}

func (j *memJournal) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.ReceiptEntry, error) {
	var out []domain.ReceiptEntry
	for _, e := range j.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *memJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var kept []domain.ReceiptEntry
	for _, e := range j.entries {
		if !e.CreatedAt.Before(before) {
			kept = append(kept, e)
		}
	}
	n := int64(len(j.entries) - len(kept))
	j.entries = kept
	return n, nil
}

type memAudit struct {
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func journalAt(times ...time.Time) *memJournal {
	j := &memJournal{}
	for i, ts := range times {
		j.entries = append(j.entries, domain.ReceiptEntry{
			ID:        int64(i + 1),
			Receipt:   domain.Receipt{TxHash: "0x" + string(rune('a'+i)), Method: "issue"},
			CreatedAt: ts,
		})
	}
	return j
}

func TestArchiveReceipts(t *testing.T) {
	cutoff := time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC)
	journal := journalAt(cutoff.Add(-48*time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour))
	writer := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}

	a := NewArchiver(writer, journal, audit, slog.Default())
	n, err := a.ArchiveReceipts(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := writer.objects["archive/receipts/2030-01-31.jsonl"]
	require.True(t, ok)
	var lines int
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var e domain.ReceiptEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)

	require.Len(t, journal.entries, 1)
	assert.Equal(t, int64(3), journal.entries[0].ID)
	assert.Equal(t, []string{"archive.receipts"}, audit.events)
}

func TestArchiveReceipts_UploadFailureKeepsJournal(t *testing.T) {
	cutoff := time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC)
	journal := journalAt(cutoff.Add(-time.Hour))
	writer := &memWriter{objects: map[string][]byte{}, err: errors.New("bucket unavailable")}

	a := NewArchiver(writer, journal, nil, slog.Default())
	_, err := a.ArchiveReceipts(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, journal.entries, 1)
}

func TestArchiveReceipts_NothingToArchive(t *testing.T) {
	writer := &memWriter{objects: map[string][]byte{}}
	a := NewArchiver(writer, &memJournal{}, nil, slog.Default())
	n, err := a.ArchiveReceipts(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.objects)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
