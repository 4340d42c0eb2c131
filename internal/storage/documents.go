package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/hmoriya/tradegate/internal/model"
)

// UpsertDocument inserts or updates a prior-art document keyed by
// publication number. It reports whether a new row was inserted.
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *model.Document) (bool, error) {
	return s.upsertDocumentTx(ctx, s.db, doc)
}

func (s *SQLiteStorage) upsertDocumentTx(ctx context.Context, q dbtx, doc *model.Document) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if doc == nil {
		return false, fmt.Errorf("%w: doc", ErrNilParameter)
	}
	if err := validateString(doc.PublicationNumber, "doc.PublicationNumber"); err != nil {
		return false, err
	}

	now := time.Now().UTC()

	var existingID int64
	err := q.QueryRowContext(ctx, `SELECT id FROM documents WHERE publication_number = ?`,
		doc.PublicationNumber).Scan(&existingID)

	switch {
	case err == nil:
		_, err = q.ExecContext(ctx, `
			UPDATE documents SET title = ?, assignee = ?, usage_text = ?, ipc_codes = ?, updated_at = ?
			WHERE id = ?
		`, doc.Title, doc.Assignee, doc.UsageText, nullIfEmpty(doc.IPCCodes), now, existingID)
		if err != nil {
			return false, fmt.Errorf("failed to update document: %w", err)
		}
		doc.ID = existingID
		doc.UpdatedAt = now
		return false, nil

	case err == sql.ErrNoRows:
		doc.CreatedAt = now
		doc.UpdatedAt = now
		res, insErr := q.ExecContext(ctx, `
			INSERT INTO documents (publication_number, title, assignee, usage_text, ipc_codes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, doc.PublicationNumber, doc.Title, doc.Assignee, doc.UsageText,
			nullIfEmpty(doc.IPCCodes), doc.CreatedAt, doc.UpdatedAt)
		if insErr != nil {
			return false, fmt.Errorf("failed to insert document: %w", insErr)
		}
		doc.ID, insErr = res.LastInsertId()
		if insErr != nil {
			return false, fmt.Errorf("failed to read document id: %w", insErr)
		}
		return true, nil

	default:
		return false, fmt.Errorf("failed to look up document: %w", err)
	}
}

// GetDocuments lists the whole corpus in id order.
func (s *SQLiteStorage) GetDocuments(ctx context.Context) ([]model.Document, error) {
	return s.getDocumentsTx(ctx, s.db)
}

func (s *SQLiteStorage) getDocumentsTx(ctx context.Context, q dbtx) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return queryDocuments(ctx, q, `
		SELECT id, publication_number, title, assignee, usage_text, ipc_codes, created_at, updated_at
		FROM documents ORDER BY id
	`)
}

// CountDocuments counts corpus rows.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int, error) {
	return s.countDocumentsTx(ctx, s.db)
}

func (s *SQLiteStorage) countDocumentsTx(ctx context.Context, q dbtx) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// GetDocumentSample returns up to limit corpus rows in id order. The
// retrieval engine serves these as its tagged fallback when it cannot search.
func (s *SQLiteStorage) GetDocumentSample(ctx context.Context, limit int) ([]model.Document, error) {
	return s.getDocumentSampleTx(ctx, s.db, limit)
}

func (s *SQLiteStorage) getDocumentSampleTx(ctx context.Context, q dbtx, limit int) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	return queryDocuments(ctx, q, `
		SELECT id, publication_number, title, assignee, usage_text, ipc_codes, created_at, updated_at
		FROM documents ORDER BY id LIMIT ?
	`, limit)
}

func queryDocuments(ctx context.Context, q dbtx, query string, args ...any) ([]model.Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var title, assignee, usage, ipc sql.NullString
		if err := rows.Scan(&d.ID, &d.PublicationNumber, &title, &assignee, &usage, &ipc,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Title = title.String
		d.Assignee = assignee.String
		d.UsageText = usage.String
		d.IPCCodes = ipc.String
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SaveDocumentVector persists one embedding, replacing any existing vector
// for the same (document, model tag).
func (s *SQLiteStorage) SaveDocumentVector(ctx context.Context, vec *model.DocumentVector) error {
	return s.saveDocumentVectorTx(ctx, s.db, vec)
}

func (s *SQLiteStorage) saveDocumentVectorTx(ctx context.Context, q dbtx, vec *model.DocumentVector) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if vec == nil {
		return fmt.Errorf("%w: vec", ErrNilParameter)
	}
	if err := validateID(vec.DocumentID, "vec.DocumentID"); err != nil {
		return err
	}
	if err := validateString(vec.ModelTag, "vec.ModelTag"); err != nil {
		return err
	}
	if len(vec.Vector) == 0 {
		return fmt.Errorf("%w: vec.Vector", ErrNilParameter)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO document_vectors (document_id, model_tag, vector)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id, model_tag) DO UPDATE SET vector = excluded.vector
	`, vec.DocumentID, vec.ModelTag, encodeVector(vec.Vector))
	if err != nil {
		return fmt.Errorf("failed to save document vector: %w", err)
	}
	return nil
}

// GetDocumentVectors loads every persisted embedding under a model tag.
func (s *SQLiteStorage) GetDocumentVectors(ctx context.Context, modelTag string) ([]model.DocumentVector, error) {
	return s.getDocumentVectorsTx(ctx, s.db, modelTag)
}

func (s *SQLiteStorage) getDocumentVectorsTx(ctx context.Context, q dbtx, modelTag string) ([]model.DocumentVector, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(modelTag, "modelTag"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT document_id, model_tag, vector FROM document_vectors
		WHERE model_tag = ? ORDER BY document_id
	`, modelTag)
	if err != nil {
		return nil, fmt.Errorf("failed to query document vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vecs []model.DocumentVector
	for rows.Next() {
		var v model.DocumentVector
		var blob []byte
		if err := rows.Scan(&v.DocumentID, &v.ModelTag, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan document vector: %w", err)
		}
		v.Vector, err = decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", v.DocumentID, err)
		}
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// DeleteDocumentVectors drops every embedding under a model tag, forcing the
// next index build to re-embed from source data.
func (s *SQLiteStorage) DeleteDocumentVectors(ctx context.Context, modelTag string) (int64, error) {
	return s.deleteDocumentVectorsTx(ctx, s.db, modelTag)
}

func (s *SQLiteStorage) deleteDocumentVectorsTx(ctx context.Context, q dbtx, modelTag string) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(modelTag, "modelTag"); err != nil {
		return 0, err
	}

	res, err := q.ExecContext(ctx, `DELETE FROM document_vectors WHERE model_tag = ?`, modelTag)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return res.RowsAffected()
}

// Vectors are stored as little-endian float32 blobs.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
