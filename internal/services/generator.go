package services

import (
	"crypto/rand"
	"fmt"
	"time"

	"coupon-system/internal/apperror"
	"coupon-system/internal/logger"
	"coupon-system/internal/models"
)

// CodeAlphabet — безопасный алфавит из 31 символа: заглавные буквы и цифры
// без визуально неоднозначных глифов 0, O, 1, I, L.
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Границы длины кода
const (
	MinCodeLength = 8
	MaxCodeLength = 12
)

const batchIDSuffixLength = 6

// CodeGenerator генерирует криптографически непредсказуемые коды купонов.
type CodeGenerator struct {
	log *logger.Logger
}

// NewCodeGenerator создает генератор кодов.
func NewCodeGenerator(log *logger.Logger) *CodeGenerator {
	return &CodeGenerator{log: log}
}

// Generate возвращает уникальный код указанной длины, отсутствующий в existing.
// При коллизии повторяет попытку до maxRetries раз.
func (g *CodeGenerator) Generate(length, maxRetries int, existing map[string]struct{}) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", apperror.Validation(apperror.CodeInvalidFormat,
			fmt.Sprintf("code length must be between %d and %d", MinCodeLength, MaxCodeLength), nil)
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		code, err := randomCode(length)
		if err != nil {
			return "", fmt.Errorf("failed to draw random code: %w", err)
		}
		if _, taken := existing[code]; !taken {
			return code, nil
		}
	}

	return "", apperror.Exhausted(apperror.CodeGenerationExhausted,
		fmt.Sprintf("no unique code found after %d attempts, widen code length or shrink the batch", maxRetries), nil)
}

// Stats возвращает параметры адресного пространства кодов заданной длины.
// Рекомендуемый максимум партии — 10% пространства, чтобы держать генерацию
// ниже режима парадокса дней рождения.
func (g *CodeGenerator) Stats(length int) (*models.CodeSpaceStats, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return nil, apperror.Validation(apperror.CodeInvalidFormat,
			fmt.Sprintf("code length must be between %d and %d", MinCodeLength, MaxCodeLength), nil)
	}

	total := int64(1)
	for i := 0; i < length; i++ {
		total *= int64(len(CodeAlphabet))
	}

	return &models.CodeSpaceStats{
		CodeLength:          length,
		AlphabetSize:        len(CodeAlphabet),
		TotalSpace:          total,
		RecommendedMaxBatch: total / 10,
		Alphabet:            CodeAlphabet,
	}, nil
}

// NewBatchID возвращает идентификатор партии: временной префикс + случайный суффикс.
func (g *CodeGenerator) NewBatchID() (string, error) {
	suffix, err := randomCode(MinCodeLength)
	if err != nil {
		return "", fmt.Errorf("failed to draw batch id suffix: %w", err)
	}
	return fmt.Sprintf("BATCH_%d_%s", time.Now().Unix(), suffix[:batchIDSuffixLength]), nil
}

// ValidateCodeFormat проверяет длину и принадлежность алфавиту без обращения к хранилищу.
func ValidateCodeFormat(code string) error {
	if len(code) < MinCodeLength || len(code) > MaxCodeLength {
		return apperror.Validation(apperror.CodeInvalidFormat,
			fmt.Sprintf("code length must be between %d and %d", MinCodeLength, MaxCodeLength), nil)
	}
	for _, r := range code {
		if !isAlphabetRune(r) {
			return apperror.Validation(apperror.CodeInvalidFormat,
				fmt.Sprintf("code contains character outside the safe alphabet: %q", r), nil)
		}
	}
	return nil
}

func isAlphabetRune(r rune) bool {
	for _, a := range CodeAlphabet {
		if r == a {
			return true
		}
	}
	return false
}

// randomCode набирает length символов из алфавита через CSPRNG.
// Байты >= 248 отбрасываются: 248 кратно 31, иначе остаток по модулю был бы смещен.
func randomCode(length int) (string, error) {
	const unbiasedLimit = byte(248)

	out := make([]byte, 0, length)
	buf := make([]byte, length*2)

	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= unbiasedLimit {
				continue
			}
			out = append(out, CodeAlphabet[int(b)%len(CodeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
