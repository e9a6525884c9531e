package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"livecode/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotTrace, gotUser interface{}
	r := gin.New()
	r.Use(TraceContextMiddleware())
	r.GET("/", func(c *gin.Context) {
		gotTrace = c.Request.Context().Value(contextkey.TraceID)
		gotUser = c.Request.Context().Value(contextkey.UserID)
		c.Status(http.StatusNoContent)
	})

	t.Run("keeps incoming ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(traceIDHeader, "trace-1")
		req.Header.Set(userIDHeader, "u-9")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if gotTrace != "trace-1" {
			t.Fatalf("trace id = %v", gotTrace)
		}
		if gotUser != "u-9" {
			t.Fatalf("user id = %v", gotUser)
		}
		if w.Header().Get(traceIDHeader) != "trace-1" {
			t.Fatalf("trace header not echoed")
		}
	})

	t.Run("generates missing ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if s, _ := gotTrace.(string); s == "" {
			t.Fatalf("expected generated trace id")
		}
		if w.Header().Get(requestIDHeader) == "" {
			t.Fatalf("expected generated request id header")
		}
	})
}
