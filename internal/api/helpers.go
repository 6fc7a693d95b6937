package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/AlekSi/pointer"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"minicrm/internal/apperr"
)

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		verr     *apperr.ValidationError
		nf       *apperr.NotFoundError
		dup      *apperr.DuplicateNameError
		conflict *apperr.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(statusForErrors(verr.Fields), gin.H{"errors": verr.Fields})
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": apperr.CodeNotFound})
	case errors.As(err, &dup):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "duplicate_name"})
	case errors.As(err, &conflict):
		code := apperr.CodeInUse
		if strings.HasPrefix(conflict.Reason, "version mismatch") {
			code = apperr.CodeVersionConflict
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": code})
	default:
		requestLog(c).Errorw("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func statusForErrors(errs []apperr.FieldError) int {
	// 409, если есть конфликтные ошибки (unique/ref)
	for _, e := range errs {
		if e.Code == apperr.CodeUniqueViolation || e.Code == apperr.CodeRefNotFound {
			return http.StatusConflict
		}
	}
	return http.StatusBadRequest
}

// bindError answers a request whose body could not be bound.
func bindError(c *gin.Context, err error) {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) {
		out := make([]apperr.FieldError, 0, len(ves))
		for _, fe := range ves {
			code := apperr.CodeInvalid
			if fe.Tag() == "required" {
				code = apperr.CodeRequired
			}
			out = append(out, apperr.Ferr(code, snake(fe.Field()), fe.Error()))
		}
		c.JSON(http.StatusBadRequest, gin.H{"errors": out})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
}

// snake turns a Go field name into the json key used by the request types.
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// readExpectedVersion читает ожидаемую версию из If-Match либо из payload["version"] (число).
// Ключ version удаляется из payload, если он служебный.
func readExpectedVersion(c *gin.Context, payload map[string]any, bodyVersion bool) *int64 {
	// 1) If-Match: допускаем просто число (например, "3")
	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch != "" {
		// уберём кавычки/weak-префикс вида W/"3"
		ifMatch = strings.TrimPrefix(ifMatch, "W/")
		ifMatch = strings.Trim(ifMatch, `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			return pointer.ToInt64(v)
		}
	}
	if payload == nil || !bodyVersion {
		return nil
	}
	// 2) из тела: "version": <int>
	raw, ok := payload["version"]
	if !ok {
		return nil
	}
	delete(payload, "version")
	switch t := raw.(type) {
	case json.Number:
		if v, err := t.Int64(); err == nil {
			return pointer.ToInt64(v)
		}
	case float64:
		return pointer.ToInt64(int64(t))
	case string:
		if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return pointer.ToInt64(v)
		}
	}
	return nil
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", `"`+strconv.FormatInt(version, 10)+`"`)
}

func requestLog(c *gin.Context) *zap.SugaredLogger {
	if v, ok := c.Get(ctxLogger); ok {
		if l, ok := v.(*zap.SugaredLogger); ok {
			return l
		}
	}
	return zap.S()
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
