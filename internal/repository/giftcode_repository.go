package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/topup/internal/model"
)

const giftCodeColumns = `id, code, denomination, status, created_at, expires_at, metadata`

// GiftCodeRepository handles gift code inventory rows in PostgreSQL
type GiftCodeRepository struct {
	db *sqlx.DB
}

// NewGiftCodeRepository creates a new gift code repository
func NewGiftCodeRepository(db *sqlx.DB) *GiftCodeRepository {
	return &GiftCodeRepository{db: db}
}

// Insert stores a single code and sets its ID
func (r *GiftCodeRepository) Insert(ctx context.Context, code *model.GiftCode) error {
	return insertGiftCode(ctx, r.db, code)
}

func insertGiftCode(ctx context.Context, db DBExecutor, code *model.GiftCode) error {
	query := `
		INSERT INTO gift_code_inventory (code, denomination, status, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := db.GetContext(ctx, &code.ID, query,
		code.Code, code.Denomination, code.Status, code.CreatedAt, code.ExpiresAt, code.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("code %s: %w", code.Code, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert gift code: %w", err)
	}
	return nil
}

// InsertBatch stores codes in one transaction, in batches
func (r *GiftCodeRepository) InsertBatch(ctx context.Context, codes []*model.GiftCode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// PostgreSQL caps bind parameters at 65535
	batchSize := 1000

	for i := 0; i < len(codes); i += batchSize {
		end := i + batchSize
		if end > len(codes) {
			end = len(codes)
		}

		if err := r.insertBatch(ctx, tx, codes[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// insertBatch inserts a batch of codes using a single query
func (r *GiftCodeRepository) insertBatch(ctx context.Context, tx *sqlx.Tx, codes []*model.GiftCode) error {
	if len(codes) == 0 {
		return nil
	}

	valuesClause := make([]string, len(codes))
	args := make([]interface{}, 0, len(codes)*6)

	for i, c := range codes {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6)
		args = append(args, c.Code, c.Denomination, c.Status, c.CreatedAt, c.ExpiresAt, c.Metadata)
	}

	query := fmt.Sprintf(`
		INSERT INTO gift_code_inventory (code, denomination, status, created_at, expires_at, metadata)
		VALUES %s
		RETURNING id
	`, strings.Join(valuesClause, ", "))

	var ids []int64
	if err := tx.SelectContext(ctx, &ids, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch insert: %w", ErrDuplicate)
		}
		return fmt.Errorf("failed to execute batch insert: %w", err)
	}
	// RETURNING preserves VALUES order for a single-statement insert
	for i := range ids {
		if i < len(codes) {
			codes[i].ID = ids[i]
		}
	}
	return nil
}

// GetByCode retrieves a code by its unique code string
func (r *GiftCodeRepository) GetByCode(ctx context.Context, code string) (*model.GiftCode, error) {
	query := `SELECT ` + giftCodeColumns + ` FROM gift_code_inventory WHERE code = $1`
	return r.getOne(ctx, query, code)
}

// GetByID retrieves a code by its store-assigned id
func (r *GiftCodeRepository) GetByID(ctx context.Context, id int64) (*model.GiftCode, error) {
	query := `SELECT ` + giftCodeColumns + ` FROM gift_code_inventory WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *GiftCodeRepository) getOne(ctx context.Context, query string, arg interface{}) (*model.GiftCode, error) {
	var code model.GiftCode
	if err := r.db.GetContext(ctx, &code, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gift code: %w", err)
	}
	return &code, nil
}

// ListAll returns every code ordered by id
func (r *GiftCodeRepository) ListAll(ctx context.Context) ([]model.GiftCode, error) {
	query := `SELECT ` + giftCodeColumns + ` FROM gift_code_inventory ORDER BY id ASC`

	var codes []model.GiftCode
	if err := r.db.SelectContext(ctx, &codes, query); err != nil {
		return nil, fmt.Errorf("failed to list gift codes: %w", err)
	}
	return codes, nil
}

// ListByStatus returns every code in status ordered by id
func (r *GiftCodeRepository) ListByStatus(ctx context.Context, status model.CodeStatus) ([]model.GiftCode, error) {
	query := `SELECT ` + giftCodeColumns + ` FROM gift_code_inventory WHERE status = $1 ORDER BY id ASC`

	var codes []model.GiftCode
	if err := r.db.SelectContext(ctx, &codes, query, status); err != nil {
		return nil, fmt.Errorf("failed to list gift codes by status: %w", err)
	}
	return codes, nil
}

// CompareAndSetStatus moves a code from one status to another only if the
// row is still in from. A nil metadata leaves the stored bag unchanged.
// The boolean reports whether the row was updated.
func (r *GiftCodeRepository) CompareAndSetStatus(ctx context.Context, id int64, from, to model.CodeStatus, metadata model.Metadata) (bool, error) {
	query := `
		UPDATE gift_code_inventory
		SET status = $1, metadata = COALESCE($2::jsonb, metadata)
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, to, metadata, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to update gift code status: %w", err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ok, nil
}

// Ping checks the database connection
func (r *GiftCodeRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
