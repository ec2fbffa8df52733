package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"coupon-system/internal/logger"
	"coupon-system/internal/models"
)

// CouponHandler представляет обработчик купонов
type CouponHandler struct {
	engine CouponEngine
	log    *logger.Logger
}

// NewCouponHandler создает новый обработчик купонов
func NewCouponHandler(engine CouponEngine, log *logger.Logger) *CouponHandler {
	return &CouponHandler{
		engine: engine,
		log:    log,
	}
}

// CreateCoupons генерирует один купон или партию.
// Quantity <= 1 без batch_name означает одиночную генерацию.
func (h *CouponHandler) CreateCoupons(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.GenerateCouponsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Quantity > 1 || req.BatchName != nil {
		batch, err := h.engine.GenerateBatch(r.Context(), &req)
		if err != nil {
			writeServiceError(w, h.log, err, "Failed to generate coupon batch")
			return
		}
		writeJSONResponse(w, http.StatusCreated, batch)
		return
	}

	coupon, err := h.engine.Generate(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to generate coupon")
		return
	}
	writeJSONResponse(w, http.StatusCreated, coupon)
}

// HandleCouponPath маршрутизирует запросы вида /api/coupons/{code}[/action].
func (h *CouponHandler) HandleCouponPath(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/coupons/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getCoupon(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.deleteCoupon(w, r)
	case len(parts) == 2 && parts[1] == "validate" && r.Method == http.MethodPost:
		h.validateCoupon(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "redeem" && r.Method == http.MethodPost:
		h.redeemCoupon(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		h.deactivateCoupon(w, r)
	case len(parts) == 1 || (len(parts) == 2 && (parts[1] == "validate" || parts[1] == "redeem" || parts[1] == "deactivate")):
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		writeErrorResponse(w, http.StatusNotFound, "Not found")
	}
}

// HandleBatchPath маршрутизирует запросы вида /api/batches/{batchId}[/deactivate].
func (h *CouponHandler) HandleBatchPath(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/batches/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getBatchSummary(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "deactivate" && r.Method == http.MethodPost:
		h.deactivateBatch(w, r, parts[0])
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "deactivate"):
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		writeErrorResponse(w, http.StatusNotFound, "Not found")
	}
}

// Stats возвращает параметры адресного пространства кодов.
func (h *CouponHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	length := 0
	if raw := r.URL.Query().Get("length"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid length parameter")
			return
		}
		length = parsed
	}

	stats, err := h.engine.Stats(length)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to compute code space stats")
		return
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

func (h *CouponHandler) getCoupon(w http.ResponseWriter, r *http.Request, code string) {
	coupon, err := h.engine.GetCoupon(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get coupon")
		return
	}
	writeJSONResponse(w, http.StatusOK, coupon)
}

// validateCoupon возвращает 200 и для валидных, и для невалидных купонов:
// вердикт лежит в теле, ошибкой HTTP считается только отказ инфраструктуры.
func (h *CouponHandler) validateCoupon(w http.ResponseWriter, r *http.Request, code string) {
	result, err := h.engine.Validate(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate coupon")
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (h *CouponHandler) redeemCoupon(w http.ResponseWriter, r *http.Request, code string) {
	var req models.RedeemCouponRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	coupon, err := h.engine.Redeem(r.Context(), code, req.RedeemedBy)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to redeem coupon")
		return
	}

	writeJSONResponse(w, http.StatusOK, coupon)
}

func (h *CouponHandler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r.URL.Path, "/api/coupons/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	coupon, err := h.engine.Deactivate(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to deactivate coupon")
		return
	}
	writeJSONResponse(w, http.StatusOK, coupon)
}

func (h *CouponHandler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r.URL.Path, "/api/coupons/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CouponHandler) getBatchSummary(w http.ResponseWriter, r *http.Request, batchID string) {
	summary, err := h.engine.BatchSummary(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get batch summary")
		return
	}
	writeJSONResponse(w, http.StatusOK, summary)
}

func (h *CouponHandler) deactivateBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	affected, err := h.engine.DeactivateBatch(r.Context(), batchID)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to deactivate batch")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"batch_id": batchID,
		"affected": affected,
	})
}
