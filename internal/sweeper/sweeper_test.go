package sweeper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exeat/internal/permit/service"
	"exeat/pkg/secrets"
)

type stubExpirer struct {
	calls  atomic.Int32
	result service.SweepResult
	err    error
}

func (s *stubExpirer) ExpireStale(context.Context, time.Time, time.Duration) (service.SweepResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_SweepsOnTick(t *testing.T) {
	expirer := &stubExpirer{result: service.SweepResult{Found: 1, Expired: 1}}
	worker := New(expirer, discardLogger(), WithInterval(10*time.Millisecond))

	worker.Start()
	require.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(ctx))
}

func TestWorker_StopIsIdempotentAndHaltsSweeps(t *testing.T) {
	expirer := &stubExpirer{}
	worker := New(expirer, discardLogger(), WithInterval(10*time.Millisecond))

	worker.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(ctx))

	stopped := expirer.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, expirer.calls.Load())
}

func TestWorker_KeepsTickingAfterSweepError(t *testing.T) {
	expirer := &stubExpirer{err: assert.AnError}
	worker := New(expirer, discardLogger(), WithInterval(10*time.Millisecond))

	worker.Start()
	require.Eventually(t, func() bool {
		return expirer.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, worker.Stop(ctx))
}

func sweepRequest(t *testing.T, handler *Handler, secret string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	handler.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", strings.NewReader("{}"))
	if secret != "" {
		req.Header.Set(sweepSecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RequiresValidSecret(t *testing.T) {
	hash, err := secrets.Hash("sweep-me")
	require.NoError(t, err)

	expirer := &stubExpirer{result: service.SweepResult{Found: 2, Expired: 2}}
	handler := NewHandler(expirer, hash, time.Hour, discardLogger())

	t.Run("missing secret", func(t *testing.T) {
		rec := sweepRequest(t, handler, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, int32(0), expirer.calls.Load())
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := sweepRequest(t, handler, "guess")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, int32(0), expirer.calls.Load())
	})

	t.Run("correct secret runs the sweep", func(t *testing.T) {
		rec := sweepRequest(t, handler, "sweep-me")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int32(1), expirer.calls.Load())
		assert.JSONEq(t, `{"found":2,"expired":2,"skipped":0}`, rec.Body.String())
	})
}

func TestHandler_DisabledWithoutHash(t *testing.T) {
	expirer := &stubExpirer{}
	handler := NewHandler(expirer, "", time.Hour, discardLogger())

	rec := sweepRequest(t, handler, "anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), expirer.calls.Load())
}
