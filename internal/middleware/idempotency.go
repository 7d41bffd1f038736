package middleware

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avridge/accountd/internal/idempotency"
)

// HeaderIdempotencyKey is the client-supplied key scoping "same logical
// request" across retries.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplayed marks a response served from the cache instead
// of a handler execution.
const HeaderIdempotentReplayed = "Idempotent-Replayed"

// captureWriter captures the response body/status while forwarding to the
// client, so a successful outcome can be stored for replay.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 || cw.size+int64(len(b)) <= cw.limit {
		cw.buf.Write(b)
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// Idempotent wraps a mutating route with exactly-once response capture.
// The flow is: claim the (key, endpoint, caller) tuple; on a hit replay
// the stored response byte-for-byte; on a miss run the handler and settle
// the claim with its response. The claim is settled on a detached context:
// if the client disconnects mid-handler the side effect already happened,
// so the stored response must still commit.
func Idempotent(svc *idempotency.Service, maxBodyBytes int) echo.MiddlewareFunc {
	if svc == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(HeaderIdempotencyKey)
			if key == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "idempotency_key_required"})
			}

			caller := "anon"
			if id, ok := CurrentIdentity(c); ok {
				caller = "user:" + strconv.FormatUint(id.UserID, 10)
			}
			endpoint := c.Request().Method + " " + c.Path()

			ctx := c.Request().Context()
			out, err := svc.Begin(ctx, key, endpoint, caller)
			switch err {
			case nil:
			case idempotency.ErrBadKey:
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_idempotency_key"})
			case idempotency.ErrInFlight:
				return c.JSON(http.StatusConflict, echo.Map{"error": "idempotency_in_flight"})
			default:
				return err
			}

			if out.Hit {
				ct := out.ContentType
				if ct == "" {
					ct = echo.MIMEApplicationJSON
				}
				c.Response().Header().Set(HeaderIdempotentReplayed, "true")
				c.Response().Header().Set(echo.HeaderContentType, ct)
				c.Response().WriteHeader(out.Status)
				if len(out.Body) > 0 {
					_, _ = c.Response().Write(out.Body)
				}
				return nil
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: int64(maxBodyBytes)}
			c.Response().Writer = cw

			if err := next(c); err != nil {
				// The handler never committed a response; free the claim so
				// the client can retry with the same key.
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = svc.Abandon(releaseCtx, out.Ticket)
				return err
			}

			completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if cw.limit > 0 && cw.size > cw.limit {
				// The response exceeds the cache cap, so the claim is dropped
				// and a retry with this key re-executes the handler. Handlers
				// behind this middleware must stay within the configured cap
				// to keep the exactly-once guarantee.
				c.Logger().Errorf("idempotency: response for key=%s endpoint=%s is %d bytes, over the %d-byte cache cap; retries will re-execute",
					key, endpoint, cw.size, cw.limit)
				_ = svc.Abandon(completeCtx, out.Ticket)
				return nil
			}
			contentType := c.Response().Header().Get(echo.HeaderContentType)
			if err := svc.Complete(completeCtx, out.Ticket, cw.status, contentType, cw.buf.Bytes()); err != nil {
				c.Logger().Warnf("idempotency: complete failed for key=%s endpoint=%s: %v", key, endpoint, err)
			}
			return nil
		}
	}
}
