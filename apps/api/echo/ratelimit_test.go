package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestIPLimiter(t *testing.T) {
	l := newIPLimiter(1, 2)

	a := l.get("10.0.0.1")
	assert.Same(t, a, l.get("10.0.0.1"))
	assert.NotSame(t, a, l.get("10.0.0.2"))
	assert.Equal(t, 2, l.size())

	assert.True(t, a.Allow())
	assert.True(t, a.Allow())
	assert.False(t, a.Allow(), "burst spent")

	l.cleanup(time.Now())
	assert.Equal(t, 2, l.size(), "fresh keys are kept")
	l.cleanup(time.Now().Add(l.idleTTL + time.Second))
	assert.Zero(t, l.size())
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := func(ctx echo.Context) error { return ctx.NoContent(http.StatusNoContent) }

	serve := func(l *ipLimiter, ip string) (int, http.Header) {
		e := echo.New()
		e.HTTPErrorHandler = func(err error, ctx echo.Context) {
			if he, isHTTP := err.(*echo.HTTPError); isHTTP {
				_ = ctx.NoContent(he.Code)
			}
		}
		e.GET("/", ok, rateLimitMiddleware(l))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRealIP, ip)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code, rec.Header()
	}

	t.Run("limited per ip", func(t *testing.T) {
		l := newIPLimiter(0.5, 1)
		code, _ := serve(l, "10.0.0.1")
		assert.Equal(t, http.StatusNoContent, code)

		code, hdr := serve(l, "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, code)
		assert.Equal(t, "2", hdr.Get("Retry-After"))

		code, _ = serve(l, "10.0.0.2")
		assert.Equal(t, http.StatusNoContent, code)
	})

	t.Run("disabled", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			code, _ := serve(nil, "10.0.0.1")
			assert.Equal(t, http.StatusNoContent, code)
		}
		l := newIPLimiter(0, 1)
		for i := 0; i < 5; i++ {
			code, _ := serve(l, "10.0.0.1")
			assert.Equal(t, http.StatusNoContent, code)
		}
		assert.Zero(t, l.size())
	})
}
