package handlers

import (
	"context"

	"coupon-system/internal/models"

	"github.com/google/uuid"
)

// ----- Coupons -----

// CouponEngine описывает операции жизненного цикла купонов,
// используемые HTTP слоем.
type CouponEngine interface {
	Generate(ctx context.Context, req *models.GenerateCouponsRequest) (*models.Coupon, error)
	GenerateBatch(ctx context.Context, req *models.GenerateCouponsRequest) (*models.GeneratedBatch, error)
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	Validate(ctx context.Context, code string) (*models.ValidationResult, error)
	Redeem(ctx context.Context, code string, redeemedBy *string) (*models.Coupon, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	DeactivateBatch(ctx context.Context, batchID string) (int64, error)
	BatchSummary(ctx context.Context, batchID string) (*models.BatchSummary, error)
	CanDelete(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(length int) (*models.CodeSpaceStats, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
