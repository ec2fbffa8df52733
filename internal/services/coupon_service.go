package services

import (
	"context"
	"fmt"
	"time"

	"coupon-system/internal/apperror"
	"coupon-system/internal/config"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"
	"coupon-system/internal/redis"

	"github.com/google/uuid"
)

// CouponStore описывает контракт хранилища купонов (интерфейс на стороне
// потребителя, реализация подменяется в тестах).
type CouponStore interface {
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Coupon, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
	// FilterExistingCodes возвращает подмножество codes, уже занятое в хранилище.
	FilterExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error)
	Create(ctx context.Context, coupon *models.Coupon) error
	// CreateBatch сохраняет партию атомарно: либо все купоны, либо ни одного.
	CreateBatch(ctx context.Context, coupons []*models.Coupon) error
	// UpdateStatus выполняет условное обновление: переход применяется только
	// если текущий статус равен expected, иначе возвращается ошибка с кодом
	// STALE_STATUS. redeemedBy учитывается только при переходе в REDEEMED.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next models.CouponStatus, redeemedBy *string) (*models.Coupon, error)
	// ExpireStale переводит все ACTIVE купоны с истекшим expires_at в EXPIRED.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// DeactivateBatch переводит все ACTIVE купоны партии в DEACTIVATED.
	DeactivateBatch(ctx context.Context, batchID string) (int64, error)
	AggregateByBatch(ctx context.Context, batchID string) (*models.BatchSummary, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventProducer публикует события жизненного цикла купонов.
type EventProducer interface {
	PublishCouponCreated(coupon *models.Coupon) error
	PublishBatchCreated(batchID string, quantity int) error
	PublishCouponRedeemed(coupon *models.Coupon) error
	PublishCouponDeactivated(coupon *models.Coupon) error
	PublishBatchDeactivated(batchID string, affected int64) error
	PublishCouponsExpired(affected int64) error
}

// CouponCache описывает используемое подмножество Redis клиента.
type CouponCache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// CouponService управляет жизненным циклом купонов: генерацией, проверкой,
// погашением и деактивацией.
type CouponService struct {
	store     CouponStore
	generator *CodeGenerator
	producer  EventProducer
	cache     CouponCache
	log       *logger.Logger
	genCfg    *config.GenerationConfig
	cacheCfg  *config.CacheConfig
}

// NewCouponService создает сервис купонов.
func NewCouponService(store CouponStore, generator *CodeGenerator, producer EventProducer, cache CouponCache, log *logger.Logger, genCfg *config.GenerationConfig, cacheCfg *config.CacheConfig) *CouponService {
	return &CouponService{
		store:     store,
		generator: generator,
		producer:  producer,
		cache:     cache,
		log:       log,
		genCfg:    genCfg,
		cacheCfg:  cacheCfg,
	}
}

// Generate создает один купон с уникальным кодом.
func (s *CouponService) Generate(ctx context.Context, req *models.GenerateCouponsRequest) (*models.Coupon, error) {
	length := s.codeLength(req.CodeLength)
	maxRetries := s.maxRetries()

	// Проверка существования в хранилище и вставка разнесены во времени,
	// поэтому конфликт уникального индекса тоже считается коллизией и
	// расходует попытку.
	for attempt := 1; attempt <= maxRetries; attempt++ {
		code, err := s.generator.Generate(length, 1, nil)
		if err != nil {
			return nil, err
		}

		exists, err := s.store.ExistsByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check code existence: %w", err)
		}
		if exists {
			continue
		}

		coupon := s.newCoupon(code, nil, models.GenerationMethodSingle, req)
		if err := s.store.Create(ctx, coupon); err != nil {
			if apperror.Is(err, apperror.KindConflict) {
				continue
			}
			return nil, err
		}

		s.publish(func() error { return s.producer.PublishCouponCreated(coupon) })
		s.log.WithField("code", coupon.Code).Info("Coupon generated")
		return coupon, nil
	}

	return nil, apperror.Exhausted(apperror.CodeGenerationExhausted,
		fmt.Sprintf("no unique code found after %d attempts, widen code length or shrink the batch", maxRetries), nil)
}

// GenerateBatch создает партию купонов с общим идентификатором партии.
// Партия сохраняется атомарно: частичный результат не персистится.
func (s *CouponService) GenerateBatch(ctx context.Context, req *models.GenerateCouponsRequest) (*models.GeneratedBatch, error) {
	maxBatch := s.genCfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	if req.Quantity < 1 || req.Quantity > maxBatch {
		return nil, apperror.Validation(apperror.CodeInvalidQuantity,
			fmt.Sprintf("quantity must be between 1 and %d", maxBatch), nil)
	}

	length := s.codeLength(req.CodeLength)
	maxRetries := s.maxRetries()

	batchID, err := s.batchID(req.BatchName)
	if err != nil {
		return nil, err
	}

	// Растущее множество исключений: каждый набранный код сразу исключается,
	// коллизии внутри партии невозможны по построению.
	exclusion := make(map[string]struct{}, req.Quantity)
	codes := make([]string, 0, req.Quantity)
	for len(codes) < req.Quantity {
		code, genErr := s.generator.Generate(length, maxRetries, exclusion)
		if genErr != nil {
			return nil, batchGenerationFailed(len(codes), genErr)
		}
		exclusion[code] = struct{}{}
		codes = append(codes, code)
	}

	// Сверка с историей одним запросом; занятые коды перенабираются.
	// Уникальный индекс хранилища остается последней линией защиты.
	for round := 0; ; round++ {
		taken, ferr := s.store.FilterExistingCodes(ctx, codes)
		if ferr != nil {
			return nil, fmt.Errorf("failed to seed exclusion set: %w", ferr)
		}
		if len(taken) == 0 {
			break
		}
		if round >= maxRetries {
			return nil, batchGenerationFailed(len(codes)-len(taken),
				apperror.Exhausted(apperror.CodeGenerationExhausted,
					fmt.Sprintf("%d codes still collide with existing coupons after %d rounds", len(taken), round), nil))
		}
		for i, code := range codes {
			if _, clash := taken[code]; !clash {
				continue
			}
			redrawn, genErr := s.generator.Generate(length, maxRetries, exclusion)
			if genErr != nil {
				return nil, batchGenerationFailed(len(codes)-len(taken), genErr)
			}
			exclusion[redrawn] = struct{}{}
			codes[i] = redrawn
		}
	}

	coupons := make([]*models.Coupon, 0, len(codes))
	for _, code := range codes {
		coupons = append(coupons, s.newCoupon(code, &batchID, models.GenerationMethodBatch, req))
	}

	if err := s.store.CreateBatch(ctx, coupons); err != nil {
		return nil, err
	}

	s.invalidateBatch(ctx, batchID)
	s.publish(func() error { return s.producer.PublishBatchCreated(batchID, len(coupons)) })
	s.log.WithFields(map[string]interface{}{
		"batch_id": batchID,
		"quantity": len(coupons),
	}).Info("Coupon batch generated")

	return &models.GeneratedBatch{BatchID: batchID, Coupons: coupons}, nil
}

// Validate выполняет проверки перед погашением и возвращает результат.
// Ошибки состояния кодируются в ValidationResult, наружу уходят только
// инфраструктурные ошибки.
func (s *CouponService) Validate(ctx context.Context, code string) (*models.ValidationResult, error) {
	coupon, err := s.validateForRedemption(ctx, code)
	if err != nil {
		if errCode := apperror.CodeOf(err); errCode != "" {
			return &models.ValidationResult{Valid: false, ErrorCode: errCode}, nil
		}
		return nil, err
	}
	return &models.ValidationResult{Valid: true, Coupon: coupon}, nil
}

// Redeem погашает купон: повторная проверка плюс условное обновление
// ACTIVE -> REDEEMED. При конкурентном погашении ровно один вызов
// завершается успехом, остальные получают COUPON_ALREADY_REDEEMED.
func (s *CouponService) Redeem(ctx context.Context, code string, redeemedBy *string) (*models.Coupon, error) {
	coupon, err := s.validateForRedemption(ctx, code)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, coupon.ID, models.CouponStatusActive, models.CouponStatusRedeemed, redeemedBy)
	if err != nil {
		if apperror.IsCode(err, apperror.CodeStaleStatus) {
			// Гонка проиграна: перечитываем запись и сообщаем фактическую причину.
			if fresh, ferr := s.store.FindByCode(ctx, code); ferr == nil {
				if serr := terminalStatusError(fresh); serr != nil {
					return nil, serr
				}
			}
			return nil, apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "coupon already redeemed", err)
		}
		return nil, err
	}

	s.invalidateCoupon(ctx, updated)
	s.publish(func() error { return s.producer.PublishCouponRedeemed(updated) })
	s.log.WithFields(map[string]interface{}{
		"code":        updated.Code,
		"redeemed_by": redeemedBy,
	}).Info("Coupon redeemed")

	return updated, nil
}

// GetCoupon возвращает купон по коду, используя кеш на чтение.
func (s *CouponService) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	if err := ValidateCodeFormat(code); err != nil {
		return nil, err
	}

	cacheKey := redis.GenerateKey(redis.KeyPrefixCoupon, code)
	if s.cache != nil {
		var cached models.Coupon
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	coupon, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		ttl := time.Duration(s.cacheCfg.CouponTTLMinutes) * time.Minute
		if cerr := s.cache.Set(ctx, cacheKey, coupon, ttl); cerr != nil {
			s.log.WithError(cerr).WithField("code", code).Warn("Failed to cache coupon")
		}
	}

	return coupon, nil
}

// Deactivate деактивирует один купон (явное действие администратора).
func (s *CouponService) Deactivate(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if serr := terminalStatusError(coupon); serr != nil {
		return nil, serr
	}

	updated, err := s.store.UpdateStatus(ctx, id, models.CouponStatusActive, models.CouponStatusDeactivated, nil)
	if err != nil {
		if apperror.IsCode(err, apperror.CodeStaleStatus) {
			if fresh, ferr := s.store.FindByID(ctx, id); ferr == nil {
				if serr := terminalStatusError(fresh); serr != nil {
					return nil, serr
				}
			}
			return nil, apperror.Conflict(apperror.CodeConflict, "coupon status changed concurrently", err)
		}
		return nil, err
	}

	s.invalidateCoupon(ctx, updated)
	s.publish(func() error { return s.producer.PublishCouponDeactivated(updated) })
	s.log.WithField("code", updated.Code).Info("Coupon deactivated")

	return updated, nil
}

// DeactivateBatch деактивирует все ACTIVE купоны партии одним обновлением.
// Купоны в конечных статусах не затрагиваются, повторный вызов вернет 0.
func (s *CouponService) DeactivateBatch(ctx context.Context, batchID string) (int64, error) {
	affected, err := s.store.DeactivateBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		s.invalidateBatch(ctx, batchID)
		if s.cache != nil {
			if cerr := s.cache.DeleteByPrefix(ctx, redis.KeyPrefixCoupon); cerr != nil {
				s.log.WithError(cerr).Warn("Failed to invalidate coupon cache after batch deactivation")
			}
		}
		s.publish(func() error { return s.producer.PublishBatchDeactivated(batchID, affected) })
	}

	s.log.WithFields(map[string]interface{}{
		"batch_id": batchID,
		"affected": affected,
	}).Info("Batch deactivated")

	return affected, nil
}

// SweepExpired переводит все протухшие ACTIVE купоны в EXPIRED одним
// обновлением. Ошибки хранилища логируются и гасятся: зачистка не должна
// ронять планировщик.
func (s *CouponService) SweepExpired(ctx context.Context) int64 {
	affected, err := s.store.ExpireStale(ctx, time.Now())
	if err != nil {
		s.log.WithError(err).Error("Expiration sweep failed")
		return 0
	}

	if affected > 0 {
		if s.cache != nil {
			if cerr := s.cache.DeleteByPrefix(ctx, redis.KeyPrefixCoupon); cerr != nil {
				s.log.WithError(cerr).Warn("Failed to invalidate coupon cache after sweep")
			}
		}
		s.publish(func() error { return s.producer.PublishCouponsExpired(affected) })
	}

	s.log.WithField("affected", affected).Info("Expiration sweep finished")
	return affected
}

// BatchSummary возвращает количество купонов партии по статусам.
func (s *CouponService) BatchSummary(ctx context.Context, batchID string) (*models.BatchSummary, error) {
	cacheKey := redis.GenerateKey(redis.KeyPrefixBatch, batchID)
	if s.cache != nil {
		var cached models.BatchSummary
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.store.AggregateByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if summary.Total == 0 {
		return nil, apperror.NotFound(apperror.CodeCouponNotFound, "batch not found", nil)
	}

	if s.cache != nil {
		ttl := time.Duration(s.cacheCfg.BatchTTLMinutes) * time.Minute
		if cerr := s.cache.Set(ctx, cacheKey, summary, ttl); cerr != nil {
			s.log.WithError(cerr).WithField("batch_id", batchID).Warn("Failed to cache batch summary")
		}
	}

	return summary, nil
}

// CanDelete сообщает, допустимо ли жесткое удаление купона.
// Погашенные купоны сохраняются для аудита и не удаляются.
func (s *CouponService) CanDelete(ctx context.Context, id uuid.UUID) (bool, error) {
	coupon, err := s.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return coupon.Status != models.CouponStatusRedeemed, nil
}

// Delete жестко удаляет непогашенный купон.
func (s *CouponService) Delete(ctx context.Context, id uuid.UUID) error {
	coupon, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if coupon.Status == models.CouponStatusRedeemed {
		return apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "redeemed coupons are retained for audit and cannot be deleted", nil)
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidateCoupon(ctx, coupon)
	s.log.WithField("code", coupon.Code).Info("Coupon deleted")
	return nil
}

// Stats возвращает параметры адресного пространства для длины кода.
func (s *CouponService) Stats(length int) (*models.CodeSpaceStats, error) {
	return s.generator.Stats(s.codeLength(length))
}

// validateForRedemption выполняет упорядоченные проверки:
// формат -> существование -> статус -> срок действия. Первая неудавшаяся
// проверка прерывает цепочку.
func (s *CouponService) validateForRedemption(ctx context.Context, code string) (*models.Coupon, error) {
	if err := ValidateCodeFormat(code); err != nil {
		return nil, err
	}

	coupon, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if serr := terminalStatusError(coupon); serr != nil {
		return nil, serr
	}

	if coupon.ExpiresAt != nil && !coupon.ExpiresAt.After(time.Now()) {
		// Ленивое протухание. Запись best-effort: решение о невалидности
		// не зависит от успеха записи, сошедшееся состояние обеспечит sweep.
		if _, uerr := s.store.UpdateStatus(ctx, coupon.ID, models.CouponStatusActive, models.CouponStatusExpired, nil); uerr != nil {
			s.log.WithError(uerr).WithField("code", code).Warn("Failed to persist lazy expiration, sweep will converge it")
		} else {
			s.invalidateCoupon(ctx, coupon)
			s.publish(func() error { return s.producer.PublishCouponsExpired(1) })
		}
		return nil, apperror.Conflict(apperror.CodeCouponExpired, "coupon has expired", nil)
	}

	return coupon, nil
}

// terminalStatusError возвращает типизированную ошибку для конечного статуса.
func terminalStatusError(c *models.Coupon) error {
	switch c.Status {
	case models.CouponStatusRedeemed:
		return apperror.Conflict(apperror.CodeCouponAlreadyRedeemed, "coupon already redeemed", nil)
	case models.CouponStatusDeactivated:
		return apperror.Conflict(apperror.CodeCouponDeactivated, "coupon has been deactivated", nil)
	case models.CouponStatusExpired:
		return apperror.Conflict(apperror.CodeCouponExpired, "coupon has expired", nil)
	default:
		return nil
	}
}

func batchGenerationFailed(generated int, cause error) error {
	return apperror.Exhausted(apperror.CodeBatchGenerationFailed,
		fmt.Sprintf("batch generation aborted, %d codes were generated before the failure", generated), cause)
}

func (s *CouponService) newCoupon(code string, batchID *string, method models.GenerationMethod, req *models.GenerateCouponsRequest) *models.Coupon {
	return &models.Coupon{
		ID:               uuid.New(),
		Code:             code,
		BatchID:          batchID,
		Status:           models.CouponStatusActive,
		GenerationMethod: method,
		Metadata:         req.Metadata,
		CreatedAt:        time.Now(),
		ExpiresAt:        req.ExpiresAt,
	}
}

func (s *CouponService) codeLength(requested int) int {
	if requested > 0 {
		return requested
	}
	if s.genCfg != nil && s.genCfg.CodeLength > 0 {
		return s.genCfg.CodeLength
	}
	return 10
}

func (s *CouponService) maxRetries() int {
	if s.genCfg != nil && s.genCfg.MaxRetries > 0 {
		return s.genCfg.MaxRetries
	}
	return 10
}

func (s *CouponService) batchID(custom *string) (string, error) {
	if custom != nil && *custom != "" {
		return *custom, nil
	}
	return s.generator.NewBatchID()
}

func (s *CouponService) publish(fn func() error) {
	if s.producer == nil {
		return
	}
	if err := fn(); err != nil {
		s.log.WithError(err).Error("Failed to publish coupon event")
	}
}

func (s *CouponService) invalidateCoupon(ctx context.Context, coupon *models.Coupon) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, redis.GenerateKey(redis.KeyPrefixCoupon, coupon.Code)); err != nil {
		s.log.WithError(err).WithField("code", coupon.Code).Warn("Failed to invalidate coupon cache")
	}
	if coupon.BatchID != nil {
		s.invalidateBatch(ctx, *coupon.BatchID)
	}
}

func (s *CouponService) invalidateBatch(ctx context.Context, batchID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, redis.GenerateKey(redis.KeyPrefixBatch, batchID)); err != nil {
		s.log.WithError(err).WithField("batch_id", batchID).Warn("Failed to invalidate batch cache")
	}
}
