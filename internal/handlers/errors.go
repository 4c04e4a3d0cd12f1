package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/glowlens/internal/archive"
	"github.com/benvon/glowlens/internal/imaging"
	"github.com/benvon/glowlens/internal/quota"
	"github.com/benvon/glowlens/internal/request"
	"github.com/benvon/glowlens/internal/services/ai"
	"github.com/benvon/glowlens/internal/validation"
	"go.uber.org/zap"
)

// Stable error type strings returned in the envelope's "error" field.
const (
	ErrTypeConfiguration  = "configuration_error"
	ErrTypeDecode         = "decode_error"
	ErrTypeNetwork        = "network_error"
	ErrTypeTimeout        = "timeout_error"
	ErrTypeSafetyBlocked  = "safety_blocked"
	ErrTypeResponseFormat = "response_format_error"
	ErrTypeRateLimited    = "rate_limited"
	ErrTypeQuotaExceeded  = "quota_exceeded"
	ErrTypeStorage        = "storage_error"
	ErrTypeUnknown        = "unknown_error"
	ErrTypeValidation     = "validation_error"
	ErrTypeUnauthorized   = "unauthorized"
)

// apiError is the HTTP rendering of a domain error.
type apiError struct {
	Status     int
	Type       string
	Message    string
	RetryAfter time.Duration
	Details    any
}

type lang int

const (
	langEN lang = iota
	langFA
)

// preferredLang picks Persian when it outranks English in Accept-Language.
func preferredLang(r *http.Request) lang {
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		tag = strings.ToLower(tag)
		switch {
		case tag == "fa" || strings.HasPrefix(tag, "fa-"):
			return langFA
		case tag == "en" || strings.HasPrefix(tag, "en-"):
			return langEN
		}
	}
	return langEN
}

var messages = map[string][2]string{
	ErrTypeConfiguration: {
		"The analysis service is not configured. Please contact support.",
		"سرویس تحلیل پیکربندی نشده است. لطفاً با پشتیبانی تماس بگیرید.",
	},
	ErrTypeDecode: {
		"The image could not be read. Please upload a JPEG, PNG or WebP photo.",
		"تصویر قابل خواندن نیست. لطفاً یک عکس JPEG، PNG یا WebP بارگذاری کنید.",
	},
	ErrTypeNetwork: {
		"Could not reach the AI service. If access is restricted in your region, try again with a VPN enabled.",
		"ارتباط با سرویس هوش مصنوعی برقرار نشد. اگر دسترسی در منطقه شما محدود است، با VPN دوباره تلاش کنید.",
	},
	ErrTypeTimeout: {
		"The analysis took too long. Please try again.",
		"تحلیل بیش از حد طول کشید. لطفاً دوباره تلاش کنید.",
	},
	ErrTypeSafetyBlocked: {
		"The image was rejected by the AI safety filters. Please try a different photo.",
		"تصویر توسط فیلترهای ایمنی رد شد. لطفاً عکس دیگری امتحان کنید.",
	},
	ErrTypeResponseFormat: {
		"The AI service returned an unexpected response. Please try again.",
		"پاسخ سرویس هوش مصنوعی نامعتبر بود. لطفاً دوباره تلاش کنید.",
	},
	ErrTypeRateLimited: {
		"The AI service is busy. Please wait a moment and try again.",
		"سرویس هوش مصنوعی مشغول است. لطفاً کمی صبر کنید و دوباره تلاش کنید.",
	},
	quota.ReasonDailyLimitReached: {
		"You have reached today's analysis limit. It resets at midnight.",
		"به سقف تحلیل روزانه رسیده‌اید. سهمیه در نیمه‌شب بازنشانی می‌شود.",
	},
	quota.ReasonTokenBalanceExhausted: {
		"Your token balance is used up.",
		"موجودی توکن شما به پایان رسیده است.",
	},
	ErrTypeStorage: {
		"Your data could not be loaded right now. Please try again later.",
		"اطلاعات شما در حال حاضر بارگذاری نشد. لطفاً بعداً تلاش کنید.",
	},
	"schema_missing": {
		"The service database is not initialized. Please contact support.",
		"پایگاه داده سرویس راه‌اندازی نشده است. لطفاً با پشتیبانی تماس بگیرید.",
	},
	ErrTypeUnknown: {
		"Something went wrong. Please try again.",
		"خطایی رخ داد. لطفاً دوباره تلاش کنید.",
	},
}

func message(key string, l lang) string {
	m, ok := messages[key]
	if !ok {
		m = messages[ErrTypeUnknown]
	}
	return m[l]
}

// errorFor maps err onto the stable envelope type, HTTP status and a
// localized message.
func errorFor(err error, l lang, now time.Time) apiError {
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		e := apiError{
			Status:  http.StatusTooManyRequests,
			Type:    ErrTypeQuotaExceeded,
			Message: message(exceeded.Status.Reason, l),
			Details: exceeded.Status,
		}
		if exceeded.Status.Reason == quota.ReasonDailyLimitReached {
			e.RetryAfter = exceeded.Status.ResetsAt.Sub(now)
		}
		return e
	}

	switch {
	case errors.Is(err, imaging.ErrDecode):
		return apiError{Status: http.StatusUnprocessableEntity, Type: ErrTypeDecode, Message: message(ErrTypeDecode, l)}
	case errors.Is(err, ai.ErrInvalidRequest):
		return apiError{Status: http.StatusBadRequest, Type: ErrTypeValidation, Message: validation.Describe(err)}
	case errors.Is(err, ai.ErrConfiguration):
		return apiError{Status: http.StatusServiceUnavailable, Type: ErrTypeConfiguration, Message: message(ErrTypeConfiguration, l)}
	case errors.Is(err, ai.ErrSafetyBlocked):
		return apiError{Status: http.StatusUnprocessableEntity, Type: ErrTypeSafetyBlocked, Message: message(ErrTypeSafetyBlocked, l)}
	case errors.Is(err, ai.ErrRateLimited):
		retry, _ := ai.RetryAfterHint(err)
		return apiError{Status: http.StatusTooManyRequests, Type: ErrTypeRateLimited, Message: message(ErrTypeRateLimited, l), RetryAfter: retry}
	case errors.Is(err, ai.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apiError{Status: http.StatusGatewayTimeout, Type: ErrTypeTimeout, Message: message(ErrTypeTimeout, l)}
	case errors.Is(err, ai.ErrNetwork):
		return apiError{Status: http.StatusBadGateway, Type: ErrTypeNetwork, Message: message(ErrTypeNetwork, l)}
	case errors.Is(err, ai.ErrResponseFormat):
		return apiError{Status: http.StatusBadGateway, Type: ErrTypeResponseFormat, Message: message(ErrTypeResponseFormat, l)}
	case errors.Is(err, quota.ErrSchemaMissing):
		return apiError{Status: http.StatusInternalServerError, Type: ErrTypeStorage, Message: message("schema_missing", l)}
	case errors.Is(err, quota.ErrStore), errors.Is(err, archive.ErrStorage), errors.Is(err, archive.ErrBucketMissing):
		return apiError{Status: http.StatusInternalServerError, Type: ErrTypeStorage, Message: message(ErrTypeStorage, l)}
	default:
		return apiError{Status: http.StatusInternalServerError, Type: ErrTypeUnknown, Message: message(ErrTypeUnknown, l)}
	}
}

// respondError renders err and logs server-side failures.
func respondError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	e := errorFor(err, preferredLang(r), time.Now())

	fields := []zap.Field{
		zap.String("error_type", e.Type),
		zap.Int("status_code", e.Status),
		zap.String("request_id", request.RequestID(r.Context())),
		zap.Error(err),
	}
	if e.Status >= http.StatusInternalServerError {
		logger.Error("request_failed", fields...)
	} else {
		logger.Info("request_rejected", fields...)
	}

	if e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	respondJSONErrorDetails(w, e.Status, e.Type, e.Message, e.Details)
}
