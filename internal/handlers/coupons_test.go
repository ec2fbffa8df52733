package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coupon-system/internal/apperror"
	"coupon-system/internal/config"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"

	"github.com/google/uuid"
)

type stubEngine struct {
	coupon    *models.Coupon
	batch     *models.GeneratedBatch
	result    *models.ValidationResult
	summary   *models.BatchSummary
	stats     *models.CodeSpaceStats
	affected  int64
	err       error
	lastCode  string
	lastBatch string
}

func (s *stubEngine) Generate(_ context.Context, _ *models.GenerateCouponsRequest) (*models.Coupon, error) {
	return s.coupon, s.err
}

func (s *stubEngine) GenerateBatch(_ context.Context, _ *models.GenerateCouponsRequest) (*models.GeneratedBatch, error) {
	return s.batch, s.err
}

func (s *stubEngine) GetCoupon(_ context.Context, code string) (*models.Coupon, error) {
	s.lastCode = code
	return s.coupon, s.err
}

func (s *stubEngine) Validate(_ context.Context, code string) (*models.ValidationResult, error) {
	s.lastCode = code
	return s.result, s.err
}

func (s *stubEngine) Redeem(_ context.Context, code string, _ *string) (*models.Coupon, error) {
	s.lastCode = code
	return s.coupon, s.err
}

func (s *stubEngine) Deactivate(_ context.Context, _ uuid.UUID) (*models.Coupon, error) {
	return s.coupon, s.err
}

func (s *stubEngine) DeactivateBatch(_ context.Context, batchID string) (int64, error) {
	s.lastBatch = batchID
	return s.affected, s.err
}

func (s *stubEngine) BatchSummary(_ context.Context, batchID string) (*models.BatchSummary, error) {
	s.lastBatch = batchID
	return s.summary, s.err
}

func (s *stubEngine) CanDelete(_ context.Context, _ uuid.UUID) (bool, error) {
	return s.err == nil, s.err
}

func (s *stubEngine) Delete(_ context.Context, _ uuid.UUID) error {
	return s.err
}

func (s *stubEngine) Stats(length int) (*models.CodeSpaceStats, error) {
	return s.stats, s.err
}

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func newCouponFixture() *models.Coupon {
	return &models.Coupon{
		ID:     uuid.New(),
		Code:   "ABCDEFGH22",
		Status: models.CouponStatusActive,
	}
}

func TestCreateCoupons_Single(t *testing.T) {
	engine := &stubEngine{coupon: newCouponFixture()}
	h := NewCouponHandler(engine, newTestLogger())

	body, _ := json.Marshal(models.GenerateCouponsRequest{Quantity: 1})
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.CreateCoupons(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	var got models.Coupon
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Code != engine.coupon.Code {
		t.Fatalf("unexpected coupon code: %s", got.Code)
	}
}

func TestCreateCoupons_Batch(t *testing.T) {
	engine := &stubEngine{batch: &models.GeneratedBatch{
		BatchID: "BATCH_1_AAAAAA",
		Coupons: []*models.Coupon{newCouponFixture(), newCouponFixture()},
	}}
	h := NewCouponHandler(engine, newTestLogger())

	body, _ := json.Marshal(models.GenerateCouponsRequest{Quantity: 2})
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.CreateCoupons(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	var got models.GeneratedBatch
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.BatchID != "BATCH_1_AAAAAA" || len(got.Coupons) != 2 {
		t.Fatalf("unexpected batch: %+v", got)
	}
}

func TestCreateCoupons_InvalidQuantity(t *testing.T) {
	engine := &stubEngine{err: apperror.Validation(apperror.CodeInvalidQuantity, "quantity must be between 1 and 1000", nil)}
	h := NewCouponHandler(engine, newTestLogger())

	body, _ := json.Marshal(models.GenerateCouponsRequest{Quantity: 1001})
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.CreateCoupons(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error response: %v", err)
	}
	if resp.Code != apperror.CodeInvalidQuantity {
		t.Fatalf("expected INVALID_QUANTITY code, got %s", resp.Code)
	}
}

func TestCreateCoupons_Exhausted(t *testing.T) {
	engine := &stubEngine{err: apperror.Exhausted(apperror.CodeGenerationExhausted, "no unique code found", nil)}
	h := NewCouponHandler(engine, newTestLogger())

	body, _ := json.Marshal(models.GenerateCouponsRequest{Quantity: 1})
	req := httptest.NewRequest(http.MethodPost, "/api/coupons", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.CreateCoupons(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestCreateCoupons_MethodNotAllowed(t *testing.T) {
	h := NewCouponHandler(&stubEngine{}, newTestLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/coupons", nil)
	rr := httptest.NewRecorder()
	h.CreateCoupons(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestGetCoupon(t *testing.T) {
	engine := &stubEngine{coupon: newCouponFixture()}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/ABCDEFGH22", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if engine.lastCode != "ABCDEFGH22" {
		t.Fatalf("unexpected code passed to engine: %s", engine.lastCode)
	}
}

func TestGetCoupon_NotFound(t *testing.T) {
	engine := &stubEngine{err: apperror.NotFound(apperror.CodeCouponNotFound, "coupon not found", nil)}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/MISSING222", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error response: %v", err)
	}
	if resp.Code != apperror.CodeCouponNotFound {
		t.Fatalf("expected COUPON_NOT_FOUND code, got %s", resp.Code)
	}
}

func TestValidateCoupon_InvalidReturns200(t *testing.T) {
	engine := &stubEngine{result: &models.ValidationResult{Valid: false, ErrorCode: apperror.CodeCouponExpired}}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/EXPIRED222/validate", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("validation verdict must be 200, got %d", rr.Code)
	}

	var result models.ValidationResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if result.Valid || result.ErrorCode != apperror.CodeCouponExpired {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestValidateCoupon_InfraError(t *testing.T) {
	engine := &stubEngine{err: errors.New("db down")}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/ABCDEFGH22/validate", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRedeemCoupon(t *testing.T) {
	coupon := newCouponFixture()
	coupon.Status = models.CouponStatusRedeemed
	engine := &stubEngine{coupon: coupon}
	h := NewCouponHandler(engine, newTestLogger())

	body, _ := json.Marshal(models.RedeemCouponRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/ABCDEFGH22/redeem", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got models.Coupon
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Status != models.CouponStatusRedeemed {
		t.Fatalf("expected REDEEMED, got %s", got.Status)
	}
}

func TestRedeemCoupon_AlreadyRedeemed(t *testing.T) {
	engine := &stubEngine{err: apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "coupon already redeemed", nil)}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/ABCDEFGH22/redeem", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error response: %v", err)
	}
	if resp.Code != apperror.CodeCouponAlreadyRedeemed {
		t.Fatalf("expected COUPON_ALREADY_REDEEMED code, got %s", resp.Code)
	}
}

func TestDeleteCoupon(t *testing.T) {
	engine := &stubEngine{}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/coupons/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestDeleteCoupon_RedeemedGuard(t *testing.T) {
	engine := &stubEngine{err: apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "redeemed coupons are retained for audit and cannot be deleted", nil)}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/coupons/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestDeleteCoupon_InvalidID(t *testing.T) {
	h := NewCouponHandler(&stubEngine{}, newTestLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/coupons/not-a-uuid", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDeactivateCoupon(t *testing.T) {
	coupon := newCouponFixture()
	coupon.Status = models.CouponStatusDeactivated
	engine := &stubEngine{coupon: coupon}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/"+coupon.ID.String()+"/deactivate", nil)
	rr := httptest.NewRecorder()

	h.HandleCouponPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHandleCouponPath_MethodNotAllowed(t *testing.T) {
	h := NewCouponHandler(&stubEngine{}, newTestLogger())

	req := httptest.NewRequest(http.MethodPut, "/api/coupons/ABCDEFGH22", nil)
	rr := httptest.NewRecorder()
	h.HandleCouponPath(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/coupons/ABCDEFGH22/redeem", nil)
	rr = httptest.NewRecorder()
	h.HandleCouponPath(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET redeem, got %d", rr.Code)
	}
}

func TestHandleCouponPath_UnknownAction(t *testing.T) {
	h := NewCouponHandler(&stubEngine{}, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/ABCDEFGH22/unknown", nil)
	rr := httptest.NewRecorder()
	h.HandleCouponPath(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetBatchSummary(t *testing.T) {
	engine := &stubEngine{summary: &models.BatchSummary{BatchID: "BATCH_1_AAAAAA", Total: 10, Active: 7, Redeemed: 3}}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/batches/BATCH_1_AAAAAA", nil)
	rr := httptest.NewRecorder()

	h.HandleBatchPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if engine.lastBatch != "BATCH_1_AAAAAA" {
		t.Fatalf("unexpected batch id: %s", engine.lastBatch)
	}

	var got models.BatchSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got.Total != 10 || got.Active != 7 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestDeactivateBatch(t *testing.T) {
	engine := &stubEngine{affected: 5}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/batches/BATCH_1_AAAAAA/deactivate", nil)
	rr := httptest.NewRecorder()

	h.HandleBatchPath(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if got["affected"].(float64) != 5 {
		t.Fatalf("unexpected affected count: %v", got["affected"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	engine := &stubEngine{stats: &models.CodeSpaceStats{CodeLength: 10, AlphabetSize: 31}}
	h := NewCouponHandler(engine, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/stats?length=10", nil)
	rr := httptest.NewRecorder()

	h.Stats(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestStatsEndpoint_BadLength(t *testing.T) {
	h := NewCouponHandler(&stubEngine{}, newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/stats?length=abc", nil)
	rr := httptest.NewRecorder()

	h.Stats(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
