package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-agent/internal/observability"
	apperrors "github.com/spec-kit/ticket-agent/pkg/util"
)

const signatureReplayWindow = 5 * time.Minute

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				if metrics != nil {
					metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				}
				response := fiber.Map{"error": fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}}
				if len(domainErr.Details) > 0 {
					response["error"].(fiber.Map)["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// SignatureVerification validates the platform's request signature scheme:
// HMAC-SHA256 over "v0:<timestamp>:<body>" with the signing secret, carried
// in X-Slack-Signature as "v0=<hex>". Requests older than the replay window
// are rejected. With no secret configured the check is skipped, which is only
// acceptable for local development.
func SignatureVerification(secret string, logger *zap.Logger) fiber.Handler {
	if secret == "" {
		logger.Warn("no signing secret configured, webhook signatures will not be verified")
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return func(c *fiber.Ctx) error {
		tsHeader := c.Get("X-Slack-Request-Timestamp")
		signature := c.Get("X-Slack-Signature")
		if tsHeader == "" || signature == "" {
			return apperrors.NewUnauthorized("missing request signature")
		}

		ts, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			return apperrors.NewUnauthorized("malformed signature timestamp")
		}
		if math.Abs(time.Since(time.Unix(ts, 0)).Seconds()) > signatureReplayWindow.Seconds() {
			return apperrors.NewUnauthorized("request timestamp outside allowed window")
		}

		mac := hmac.New(sha256.New, []byte(secret))
		fmt.Fprintf(mac, "v0:%s:", tsHeader)
		mac.Write(c.Body())
		expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(signature)) {
			logger.Warn("rejected request with invalid signature", zap.String("path", c.Path()))
			return apperrors.NewUnauthorized("invalid request signature")
		}
		return c.Next()
	}
}
