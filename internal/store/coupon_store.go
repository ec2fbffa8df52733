package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coupon-system/internal/apperror"
	"coupon-system/internal/database"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const couponColumns = "id, code, batch_id, status, generation_method, metadata, created_at, expires_at, redeemed_at, redeemed_by"

// CouponStore хранит купоны в PostgreSQL. Уникальность кода обеспечивает
// уникальный индекс по колонке code, переходы статусов выполняются
// условными обновлениями.
type CouponStore struct {
	db  *database.DB
	log *logger.Logger
}

// NewCouponStore создает хранилище купонов.
func NewCouponStore(db *database.DB, log *logger.Logger) *CouponStore {
	return &CouponStore{
		db:  db,
		log: log,
	}
}

// FindByCode возвращает купон по коду.
func (s *CouponStore) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	query := fmt.Sprintf("SELECT %s FROM coupons WHERE code = $1", couponColumns)

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(apperror.CodeCouponNotFound, "coupon not found", err)
		}
		return nil, fmt.Errorf("failed to get coupon by code: %w", err)
	}
	return coupon, nil
}

// FindByID возвращает купон по идентификатору.
func (s *CouponStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	query := fmt.Sprintf("SELECT %s FROM coupons WHERE id = $1", couponColumns)

	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(apperror.CodeCouponNotFound, "coupon not found", err)
		}
		return nil, fmt.Errorf("failed to get coupon by id: %w", err)
	}
	return coupon, nil
}

// ExistsByCode проверяет занятость кода.
func (s *CouponStore) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM coupons WHERE code = $1)"
	if err := s.db.QueryRowContext(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check coupon existence: %w", err)
	}
	return exists, nil
}

// FilterExistingCodes возвращает подмножество codes, уже присутствующее в
// таблице, одним запросом.
func (s *CouponStore) FilterExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	taken := make(map[string]struct{})
	if len(codes) == 0 {
		return taken, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT code FROM coupons WHERE code = ANY($1)", pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("failed to filter existing codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		taken[code] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate codes: %w", err)
	}
	return taken, nil
}

// Create сохраняет один купон. Конфликт уникального индекса по коду
// возвращается как типизированная ошибка.
func (s *CouponStore) Create(ctx context.Context, coupon *models.Coupon) error {
	metadata, err := encodeMetadata(coupon.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO coupons (id, code, batch_id, status, generation_method, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if _, err := s.db.ExecContext(ctx, query,
		coupon.ID, coupon.Code, coupon.BatchID, coupon.Status, coupon.GenerationMethod,
		metadata, coupon.CreatedAt, coupon.ExpiresAt,
	); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperror.Conflict(apperror.CodeConflict, "coupon code already exists", err)
		}
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	return nil
}

// CreateBatch сохраняет партию в одной транзакции: либо все купоны,
// либо ни одного.
func (s *CouponStore) CreateBatch(ctx context.Context, coupons []*models.Coupon) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO coupons (id, code, batch_id, status, generation_method, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for _, coupon := range coupons {
		metadata, merr := encodeMetadata(coupon.Metadata)
		if merr != nil {
			return merr
		}
		if _, err := tx.ExecContext(ctx, query,
			coupon.ID, coupon.Code, coupon.BatchID, coupon.Status, coupon.GenerationMethod,
			metadata, coupon.CreatedAt, coupon.ExpiresAt,
		); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return apperror.Conflict(apperror.CodeConflict, "coupon code already exists", err)
			}
			return fmt.Errorf("failed to insert batch coupon: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch transaction: %w", err)
	}
	return nil
}

// UpdateStatus выполняет условный переход статуса. Если текущий статус не
// равен expected, обновление не затрагивает строк и возвращается ошибка
// STALE_STATUS; отсутствие строки дает COUPON_NOT_FOUND.
func (s *CouponStore) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.CouponStatus, redeemedBy *string) (*models.Coupon, error) {
	var row *sql.Row
	if next == models.CouponStatusRedeemed {
		query := fmt.Sprintf(`
			UPDATE coupons
			SET status = $1, redeemed_at = NOW(), redeemed_by = $2
			WHERE id = $3 AND status = $4
			RETURNING %s
		`, couponColumns)
		row = s.db.QueryRowContext(ctx, query, next, redeemedBy, id, expected)
	} else {
		query := fmt.Sprintf(`
			UPDATE coupons
			SET status = $1
			WHERE id = $2 AND status = $3
			RETURNING %s
		`, couponColumns)
		row = s.db.QueryRowContext(ctx, query, next, id, expected)
	}

	coupon, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Строки нет либо статус уже изменился; различаем перечитыванием.
			if _, ferr := s.FindByID(ctx, id); ferr != nil {
				return nil, ferr
			}
			return nil, apperror.Conflict(apperror.CodeStaleStatus, "coupon status changed concurrently", nil)
		}
		return nil, fmt.Errorf("failed to update coupon status: %w", err)
	}
	return coupon, nil
}

// ExpireStale переводит все ACTIVE купоны с истекшим сроком в EXPIRED.
func (s *CouponStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE coupons
		SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at <= $3
	`

	result, err := s.db.ExecContext(ctx, query, models.CouponStatusExpired, models.CouponStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale coupons: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// DeactivateBatch переводит все ACTIVE купоны партии в DEACTIVATED.
// Купоны в конечных статусах не затрагиваются.
func (s *CouponStore) DeactivateBatch(ctx context.Context, batchID string) (int64, error) {
	query := `
		UPDATE coupons
		SET status = $1
		WHERE batch_id = $2 AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, models.CouponStatusDeactivated, batchID, models.CouponStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate batch: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected, nil
}

// AggregateByBatch возвращает распределение купонов партии по статусам.
func (s *CouponStore) AggregateByBatch(ctx context.Context, batchID string) (*models.BatchSummary, error) {
	query := `
		SELECT status, COUNT(*)
		FROM coupons
		WHERE batch_id = $1
		GROUP BY status
	`

	rows, err := s.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate batch: %w", err)
	}
	defer rows.Close()

	summary := &models.BatchSummary{BatchID: batchID}
	for rows.Next() {
		var status models.CouponStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan batch aggregate: %w", err)
		}
		summary.Total += count
		switch status {
		case models.CouponStatusActive:
			summary.Active = count
		case models.CouponStatusRedeemed:
			summary.Redeemed = count
		case models.CouponStatusExpired:
			summary.Expired = count
		case models.CouponStatusDeactivated:
			summary.Deactivated = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch aggregate: %w", err)
	}
	return summary, nil
}

// Delete удаляет купон. Погашенные купоны защищены условием в самом
// запросе, гонка с параллельным погашением исключена.
func (s *CouponStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM coupons WHERE id = $1 AND status <> $2", id, models.CouponStatusRedeemed)
	if err != nil {
		return fmt.Errorf("failed to delete coupon: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if _, ferr := s.FindByID(ctx, id); ferr != nil {
			return ferr
		}
		return apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "redeemed coupons are retained for audit and cannot be deleted", nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	var metadata []byte

	if err := row.Scan(
		&coupon.ID, &coupon.Code, &coupon.BatchID, &coupon.Status, &coupon.GenerationMethod,
		&metadata, &coupon.CreatedAt, &coupon.ExpiresAt, &coupon.RedeemedAt, &coupon.RedeemedBy,
	); err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &coupon.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode coupon metadata: %w", err)
		}
	}
	return coupon, nil
}

func encodeMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode coupon metadata: %w", err)
	}
	return data, nil
}
