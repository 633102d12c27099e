package api

import (
	"net/url"
	"strconv"
	"strings"

	"lambra/internal/apperr"
	"lambra/internal/gateway"
)

// ==== Параметры листинга ====

// parsePage читает page/limit. Пусто - значения по умолчанию, мусор - 400,
// слишком большой limit обрезается до максимума.
func parsePage(q url.Values) (page, limit int, err error) {
	var errs []apperr.FieldError
	page = 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			errs = append(errs, apperr.Field(apperr.CodeInvalid, "page", "page must be a positive integer"))
		} else {
			page = n
		}
	}
	limit = gateway.DefaultLimit
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			errs = append(errs, apperr.Field(apperr.CodeInvalid, "limit", "limit must be a positive integer"))
		} else {
			limit = n
		}
	}
	if len(errs) > 0 {
		return 0, 0, apperr.NewValidation(errs...)
	}
	page, limit = gateway.NormalizePage(page, limit)
	return page, limit, nil
}
