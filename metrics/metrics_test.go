package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("Should count answers by source", func(t *testing.T) {
		m := New()
		m.Answer("Course Content")
		m.Answer("Course Content")
		m.Answer("General Knowledge")

		assert.Equal(t, 2.0, testutil.ToFloat64(m.answers.WithLabelValues("Course Content")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.answers.WithLabelValues("General Knowledge")))
	})

	t.Run("Should separate ingested passages from failures", func(t *testing.T) {
		m := New()
		m.Ingested(12, nil)
		m.Ingested(5, errors.New("commit failed"))

		assert.Equal(t, 12.0, testutil.ToFloat64(m.ingestedPassages))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestFailures))
	})

	t.Run("Should tolerate a nil receiver", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.Answer("x")
			m.QualityRejection("garbage")
			m.Translation(false)
			m.Ingested(1, nil)
		})
	})

	t.Run("Should expose collectors over HTTP", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		m := New()
		r := gin.New()
		r.Use(m.GinMiddleware())
		r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
		r.GET("/metrics", gin.WrapH(m.Handler()))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), `profai_http_request_duration_seconds_count{method="GET",route="/ping",status="200"} 1`))
	})
}
