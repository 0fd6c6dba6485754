package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// TimeoutError is the body written when a request exceeds its deadline.
type TimeoutError struct {
	Message string `json:"message"`
	Timeout string `json:"timeout"`
}

// TimeoutConfig configures RequestTimeoutWithConfig.
type TimeoutConfig struct {
	Timeout time.Duration
	// Skipper exempts streaming responses, which cannot be replaced by a
	// 504 once their first bytes are out.
	Skipper echomw.Skipper
}

// RequestTimeout applies timeout to every request.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return RequestTimeoutWithConfig(TimeoutConfig{Timeout: timeout})
}

// RequestTimeoutWithConfig sets a context deadline on each incoming request.
// If the deadline passes before the handler returns, a 504 with a JSON body
// is written. A non-positive timeout disables the middleware.
func RequestTimeoutWithConfig(cfg TimeoutConfig) echo.MiddlewareFunc {
	if cfg.Skipper == nil {
		cfg.Skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cfg.Timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			if cfg.Skipper(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return gatewayTimeoutError(c, cfg.Timeout)
				}
				// client went away
				return ctx.Err()
			}
		}
	}
}

// SkipPaths returns a skipper matching the registered route of the request.
func SkipPaths(routes ...string) echomw.Skipper {
	skip := make(map[string]bool, len(routes))
	for _, r := range routes {
		skip[r] = true
	}
	return func(c echo.Context) bool {
		return skip[c.Path()]
	}
}

func gatewayTimeoutError(c echo.Context, timeout time.Duration) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, TimeoutError{
		Message: "dashboard recomputation exceeded the allowed time limit",
		Timeout: timeout.String(),
	})
}
