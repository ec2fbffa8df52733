package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponStatus представляет статус купона
type CouponStatus string

const (
	CouponStatusActive      CouponStatus = "ACTIVE"
	CouponStatusRedeemed    CouponStatus = "REDEEMED"
	CouponStatusExpired     CouponStatus = "EXPIRED"
	CouponStatusDeactivated CouponStatus = "DEACTIVATED"
)

// IsTerminal сообщает, является ли статус конечным (переходы из него запрещены).
func (s CouponStatus) IsTerminal() bool {
	switch s {
	case CouponStatusRedeemed, CouponStatusExpired, CouponStatusDeactivated:
		return true
	default:
		return false
	}
}

// GenerationMethod описывает способ генерации купона (для аудита).
type GenerationMethod string

const (
	GenerationMethodSingle GenerationMethod = "SINGLE"
	GenerationMethodBatch  GenerationMethod = "BATCH"
)

// Coupon представляет одноразовый код доступа в системе.
type Coupon struct {
	ID               uuid.UUID              `json:"id" db:"id"`
	Code             string                 `json:"code" db:"code"`
	BatchID          *string                `json:"batch_id,omitempty" db:"batch_id"`
	Status           CouponStatus           `json:"status" db:"status"`
	GenerationMethod GenerationMethod       `json:"generation_method" db:"generation_method"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	ExpiresAt        *time.Time             `json:"expires_at,omitempty" db:"expires_at"`
	RedeemedAt       *time.Time             `json:"redeemed_at,omitempty" db:"redeemed_at"`
	RedeemedBy       *string                `json:"redeemed_by,omitempty" db:"redeemed_by"`
}

// GenerateCouponsRequest представляет запрос на генерацию купонов.
// Quantity <= 1 без BatchName означает одиночную генерацию.
type GenerateCouponsRequest struct {
	Quantity   int                    `json:"quantity"`
	CodeLength int                    `json:"code_length,omitempty"` // 0 = длина по умолчанию из конфигурации
	BatchName  *string                `json:"batch_name,omitempty"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// GeneratedBatch представляет результат пакетной генерации.
type GeneratedBatch struct {
	BatchID string    `json:"batch_id"`
	Coupons []*Coupon `json:"coupons"`
}

// RedeemCouponRequest представляет запрос на погашение купона.
type RedeemCouponRequest struct {
	RedeemedBy *string `json:"redeemed_by,omitempty"`
}

// ValidationResult представляет результат проверки купона перед погашением.
type ValidationResult struct {
	Valid     bool    `json:"valid"`
	ErrorCode string  `json:"error_code,omitempty"`
	Coupon    *Coupon `json:"coupon,omitempty"`
}

// BatchSummary агрегирует количество купонов партии по статусам.
type BatchSummary struct {
	BatchID     string `json:"batch_id"`
	Total       int64  `json:"total"`
	Active      int64  `json:"active"`
	Redeemed    int64  `json:"redeemed"`
	Expired     int64  `json:"expired"`
	Deactivated int64  `json:"deactivated"`
}

// CodeSpaceStats описывает адресное пространство кодов заданной длины.
type CodeSpaceStats struct {
	CodeLength          int    `json:"code_length"`
	AlphabetSize        int    `json:"alphabet_size"`
	TotalSpace          int64  `json:"total_space"`
	RecommendedMaxBatch int64  `json:"recommended_max_batch"`
	Alphabet            string `json:"alphabet"`
}
