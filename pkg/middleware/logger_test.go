package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/shirkeanjali/medgenix/pkg/context"
	"github.com/shirkeanjali/medgenix/pkg/metrics"
)

func TestLogger(t *testing.T) {
	t.Run("should observe request duration for the handled route", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

		e := echo.New()
		e.Use(Context())
		e.Use(Logger(logger))
		e.GET("/api/v1/medicines/:name", func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})

		before := testutil.CollectAndCount(metrics.RequestDuration)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines/Paracetamol", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Greater(t, testutil.CollectAndCount(metrics.RequestDuration), before)
	})

	t.Run("should expose the caller's language preference on the request context", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

		e := echo.New()
		e.Use(Context())
		e.Use(Logger(logger))

		var language string
		e.GET("/api/v1/medicines/trending", func(c echo.Context) error {
			language = appctx.GetLanguage(c.Request().Context())
			return c.NoContent(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/medicines/trending", nil)
		req.Header.Set(HeaderLanguage, "hi")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hi", language)
	})
}
