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

// CreateTransaction persists a new trade case and assigns its ID.
func (s *SQLiteStorage) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	return s.createTransactionTx(ctx, s.db, txn)
}

func (s *SQLiteStorage) createTransactionTx(ctx context.Context, q dbtx, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}

	if txn.Status == "" {
		txn.Status = model.TransactionDraft
	}
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	res, err := q.ExecContext(ctx, `
		INSERT INTO transactions (case_no, title, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, nullIfEmpty(txn.CaseNo), txn.Title, string(txn.Status), txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	txn.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read transaction id: %w", err)
	}
	return nil
}

// GetTransaction loads one trade case by ID.
func (s *SQLiteStorage) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.getTransactionTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTransactionTx(ctx context.Context, q dbtx, id int64) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(id, "id"); err != nil {
		return nil, err
	}

	var txn model.Transaction
	var caseNo, title sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, case_no, title, status, created_at, updated_at
		FROM transactions WHERE id = ?
	`, id).Scan(&txn.ID, &caseNo, &title, &txn.Status, &txn.CreatedAt, &txn.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	txn.CaseNo = caseNo.String
	txn.Title = title.String
	return &txn, nil
}

// CreateTransactionItem persists one item of a trade case.
func (s *SQLiteStorage) CreateTransactionItem(ctx context.Context, item *model.TransactionItem) error {
	return s.createTransactionItemTx(ctx, s.db, item)
}

func (s *SQLiteStorage) createTransactionItemTx(ctx context.Context, q dbtx, item *model.TransactionItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("%w: item", ErrNilParameter)
	}
	if err := validateID(item.TransactionID, "item.TransactionID"); err != nil {
		return err
	}

	item.CreatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, `
		INSERT INTO transaction_items (transaction_id, item_name, item_model, spec_text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, item.TransactionID, item.ItemName, item.ItemModel, item.SpecText, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction item: %w", err)
	}

	item.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read item id: %w", err)
	}
	return nil
}

// GetTransactionItems lists a transaction's items in insertion order.
func (s *SQLiteStorage) GetTransactionItems(ctx context.Context, transactionID int64) ([]model.TransactionItem, error) {
	return s.getTransactionItemsTx(ctx, s.db, transactionID)
}

func (s *SQLiteStorage) getTransactionItemsTx(ctx context.Context, q dbtx, transactionID int64) ([]model.TransactionItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateID(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, transaction_id, item_name, item_model, spec_text, created_at
		FROM transaction_items WHERE transaction_id = ? ORDER BY id
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.TransactionItem
	for rows.Next() {
		var item model.TransactionItem
		var name, mdl, spec sql.NullString
		if err := rows.Scan(&item.ID, &item.TransactionID, &name, &mdl, &spec, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction item: %w", err)
		}
		item.ItemName = name.String
		item.ItemModel = mdl.String
		item.SpecText = spec.String
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
