package handlers

import (
	"net/http"

	"coupon-system/internal/apperror"
	"coupon-system/internal/logger"
)

func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	code := apperror.CodeOf(err)
	switch {
	case apperror.Is(err, apperror.KindNotFound):
		writeErrorResponseCode(w, http.StatusNotFound, err.Error(), code)
	case apperror.Is(err, apperror.KindValidation):
		writeErrorResponseCode(w, http.StatusBadRequest, err.Error(), code)
	case apperror.Is(err, apperror.KindConflict):
		writeErrorResponseCode(w, http.StatusConflict, err.Error(), code)
	case apperror.Is(err, apperror.KindExhausted):
		writeErrorResponseCode(w, http.StatusUnprocessableEntity, err.Error(), code)
	default:
		if log != nil {
			log.WithError(err).Error(internalMessage)
		}
		writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
	}
}
