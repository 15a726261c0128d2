package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/lalith-99/ordersvc/internal/apperr"
	"github.com/lalith-99/ordersvc/internal/middleware"
	"go.uber.org/zap"
)

// respondError writes err as {"error", "kind"}. Server-side failures are
// logged with their cause; the client only sees the public message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	middleware.Abort(c, err)
}

// badRequest reports a binding failure.
//
// Why not return err.Error()?
// Decoder errors spell out Go struct and type names
// ("cannot unmarshal string into Go struct field ..."). The client gets the
// failed field names and rules only, and the full cause goes to the log.
func badRequest(c *gin.Context, logger *zap.Logger, err error) {
	logger.Info("invalid request body",
		zap.String("route", c.FullPath()),
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": bindingMessage(err),
		"kind":  apperr.KindValidation,
	})
}

func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	failed := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		failed = append(failed, fmt.Sprintf("%s failed %s", fe.Field(), rule))
	}
	return "invalid request body: " + strings.Join(failed, ", ")
}

var jsonNamesOnce sync.Once

// useJSONFieldNames makes validation errors name fields by their json tag,
// the name clients actually send.
func useJSONFieldNames() {
	jsonNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
}
