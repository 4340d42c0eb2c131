package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hmoriya/tradegate/internal/common"
	"github.com/hmoriya/tradegate/internal/model"
)

// CreateScreeningRequest persists a new intake request in state queued.
func (s *SQLiteStorage) CreateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error {
	return s.createScreeningRequestTx(ctx, s.db, req)
}

func (s *SQLiteStorage) createScreeningRequestTx(ctx context.Context, q dbtx, req *model.ScreeningRequest) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: req", ErrNilParameter)
	}
	if err := validateString(req.RequestID, "req.RequestID"); err != nil {
		return err
	}
	if err := validateString(req.CallbackURL, "req.CallbackURL"); err != nil {
		return err
	}

	if req.Status == "" {
		req.Status = model.RequestQueued
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	res, err := q.ExecContext(ctx, `
		INSERT INTO screening_requests
			(request_id, subject_id, callback_url, payload_in, transaction_id, status, reason, payload_out, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.RequestID, req.SubjectID, req.CallbackURL, req.PayloadIn, req.TransactionID,
		string(req.Status), nullIfEmpty(req.Reason), nullIfEmpty(req.PayloadOut), req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create screening request: %w", err)
	}

	req.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read request id: %w", err)
	}
	return nil
}

// GetScreeningRequest loads one intake request by ID.
func (s *SQLiteStorage) GetScreeningRequest(ctx context.Context, id int64) (*model.ScreeningRequest, error) {
	return s.getScreeningRequestTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getScreeningRequestTx(ctx context.Context, q dbtx, id int64) (*model.ScreeningRequest, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	var req model.ScreeningRequest
	var reason, payloadOut sql.NullString
	var txID sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT id, request_id, subject_id, callback_url, payload_in, transaction_id,
		       status, reason, payload_out, created_at, updated_at
		FROM screening_requests WHERE id = ?
	`, id).Scan(&req.ID, &req.RequestID, &req.SubjectID, &req.CallbackURL, &req.PayloadIn,
		&txID, &req.Status, &reason, &payloadOut, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("screening request %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load screening request: %w", err)
	}
	req.Reason = reason.String
	req.PayloadOut = payloadOut.String
	if txID.Valid {
		v := txID.Int64
		req.TransactionID = &v
	}
	return &req, nil
}

// UpdateScreeningRequest persists status, reason, transaction link and
// outbound payload changes of an existing request.
func (s *SQLiteStorage) UpdateScreeningRequest(ctx context.Context, req *model.ScreeningRequest) error {
	return s.updateScreeningRequestTx(ctx, s.db, req)
}

func (s *SQLiteStorage) updateScreeningRequestTx(ctx context.Context, q dbtx, req *model.ScreeningRequest) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: req", ErrNilParameter)
	}
	if err := validateID(req.ID, "req.ID"); err != nil {
		return err
	}

	req.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		UPDATE screening_requests SET
			transaction_id = ?, status = ?, reason = ?, payload_out = ?, updated_at = ?
		WHERE id = ?
	`, req.TransactionID, string(req.Status), nullIfEmpty(req.Reason),
		nullIfEmpty(req.PayloadOut), req.UpdatedAt, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update screening request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check request update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("screening request %d: %w", req.ID, common.ErrNotFound)
	}
	return nil
}
