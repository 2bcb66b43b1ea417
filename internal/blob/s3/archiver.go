package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitbondlabs/bitbondd/internal/domain"
)

// ArchiveImpl implements domain.Archiver: it snapshots settled positions and
// completed sales from the ledger as newline-delimited JSON and uploads them
// to blob storage. Nothing is deleted from the primary store; exports are
// additive snapshots keyed by month.
type ArchiveImpl struct {
	ledger domain.Ledger
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(ledger domain.Ledger, writer domain.BlobWriter, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		ledger: ledger,
		writer: writer,
		audit:  audit,
	}
}

// ArchiveSettledPositions exports every withdrawn or early-exited position
// to archive/positions/YYYY-MM.jsonl and records the export in the audit
// log. Returns the number of records written.
func (a *ArchiveImpl) ArchiveSettledPositions(ctx context.Context) (int64, error) {
	var positions []domain.Position
	err := a.ledger.View(ctx, func(tx domain.Tx) error {
		ps, err := tx.SettledPositions(ctx)
		if err != nil {
			return err
		}
		positions = ps
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive positions query: %w", err)
	}
	return archive(ctx, a, "positions", positions)
}

// ArchiveSales exports every completed sale to archive/sales/YYYY-MM.jsonl
// and records the export in the audit log. Returns the number of records
// written.
func (a *ArchiveImpl) ArchiveSales(ctx context.Context) (int64, error) {
	var sales []domain.Sale
	err := a.ledger.View(ctx, func(tx domain.Tx) error {
		ss, err := tx.Sales(ctx)
		if err != nil {
			return err
		}
		sales = ss
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sales query: %w", err)
	}
	return archive(ctx, a, "sales", sales)
}

// archive serialises the records to JSONL, uploads the monthly snapshot,
// and records the export in the audit log.
func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, time.Now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":  path,
		"count": count,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an export, partitioned by month.
//
//	archive/positions/2026-08.jsonl
//	archive/sales/2026-08.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.Format("2006-01"))
}

// marshalJSONL serialises a slice as newline-delimited JSON, one compact
// line per element.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
