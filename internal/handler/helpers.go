package handler

import (
	"context"
	"errors"
	"net/http"
	"reflect"

	"stockpos/internal/apierror"
	"stockpos/internal/middleware"
	"stockpos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

func init() {
	// Register decimal.Decimal as a numeric type so that validator tags like
	// min=0, gt=0, required work without panicking ("Bad field type decimal.Decimal").
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if v, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := v.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
}

// bindAndValidate binds JSON body and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails; the
// caller should return immediately without writing another response.
func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeBadRequest, "invalid JSON: "+err.Error()))
		return false
	}
	return validateStruct(c, req)
}

// bindQuery is bindAndValidate for query-string filters.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeBadRequest, err.Error()))
		return false
	}
	return validateStruct(c, req)
}

func validateStruct(c *gin.Context, req interface{}) bool {
	if err := validate.Struct(req); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		c.JSON(http.StatusUnprocessableEntity, apierror.NewValidation(fields))
		return false
	}
	return true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New(apierror.CodeBadRequest, "invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// operatorID is the authenticated user; uuid.Nil when the token carries no
// parseable user id.
func operatorID(c *gin.Context) uuid.UUID {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return uuid.Nil
	}
	id, _ := uuid.Parse(claims.UserID)
	return id
}

// conflictRetryAfter is the Retry-After hint, in seconds, for lock conflicts
// that exhausted the service-side retries.
const conflictRetryAfter = "1"

// respondError maps the service error taxonomy to HTTP. Unknown errors are
// logged through c.Error and answered with a generic 500. Timeouts and
// cancellations are only attached.
func respondError(c *gin.Context, err error) {
	var stockErr *service.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, &apierror.InsufficientStock{
			Detail:    stockErr.Error(),
			Code:      apierror.CodeInsufficientStock,
			ProductID: stockErr.ProductID.String(),
			Available: stockErr.Available,
			Requested: stockErr.Requested,
		})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, apierror.New(apierror.CodeNotFound, err.Error()))
	case errors.Is(err, service.ErrInvalidQuantity):
		c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeInvalidQuantity, err.Error()))
	case errors.Is(err, service.ErrInvalidSale):
		c.JSON(http.StatusUnprocessableEntity, apierror.New(apierror.CodeInvalidSale, err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.Header("Retry-After", conflictRetryAfter)
		c.JSON(http.StatusServiceUnavailable, apierror.New(apierror.CodeConflict, "stock is busy, retry the request"))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// answered by middleware.ErrorHandler
		_ = c.Error(err)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, "internal server error"))
	}
}
