package handler_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sakif/reroom-bff/internal/apperror"
	"github.com/sakif/reroom-bff/internal/auth"
	"github.com/sakif/reroom-bff/internal/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =========================================================================
// Checkout
// =========================================================================

func TestBillingHandler_Checkout(t *testing.T) {
	t.Run("user checkout uses the session user", func(t *testing.T) {
		payments := &fakePayments{url: "https://checkout.stripe.com/c/pay/cs_test_1"}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		rec := httptest.NewRecorder()
		withCaller(t, testSession("user-1"), h.HandleCheckout).ServeHTTP(rec,
			jsonRequest(t, http.MethodPost, "/api/checkout", map[string]any{"plan": "credits"}))

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_test_1"}`, rec.Body.String())
		require.Len(t, payments.checkouts, 1)
		assert.Equal(t, "user-1", payments.checkouts[0].UserID)
		assert.Equal(t, "user-1@example.com", payments.checkouts[0].Email)
		assert.Equal(t, "credits", payments.checkouts[0].Plan)
	})

	t.Run("amount and plan name are forwarded", func(t *testing.T) {
		payments := &fakePayments{url: "https://checkout.stripe.com/x"}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		rec := httptest.NewRecorder()
		withCaller(t, testSession("user-1"), h.HandleCheckout).ServeHTTP(rec,
			jsonRequest(t, http.MethodPost, "/api/checkout",
				map[string]any{"plan": "pro", "amount": 2499, "planName": "Pro (annual)"}))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2499), payments.checkouts[0].AmountCents)
		assert.Equal(t, "Pro (annual)", payments.checkouts[0].PlanName)
	})

	t.Run("user cannot pay for someone else", func(t *testing.T) {
		payments := &fakePayments{}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		rec := httptest.NewRecorder()
		withCaller(t, testSession("user-1"), h.HandleCheckout).ServeHTTP(rec,
			jsonRequest(t, http.MethodPost, "/api/checkout", map[string]any{"plan": "pro", "userId": "user-2"}))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, payments.checkouts)
	})

	t.Run("service errors map to status", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"invalid plan", apperror.ValidationFailed("plan", "Invalid plan"), http.StatusBadRequest},
			{"stripe down", apperror.Upstream("payment processor", errors.New("timeout")), http.StatusBadGateway},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				h := handler.NewBillingHandler(&fakePayments{err: tt.err}, false, newTestLogger())
				rec := httptest.NewRecorder()
				withCaller(t, testSession("user-1"), h.HandleCheckout).ServeHTTP(rec,
					jsonRequest(t, http.MethodPost, "/api/checkout", map[string]any{"plan": "gold"}))
				assert.Equal(t, tt.want, rec.Code)
			})
		}
	})

	t.Run("missing plan", func(t *testing.T) {
		h := handler.NewBillingHandler(&fakePayments{}, false, newTestLogger())
		rec := httptest.NewRecorder()
		withCaller(t, testSession("user-1"), h.HandleCheckout).ServeHTTP(rec,
			jsonRequest(t, http.MethodPost, "/api/checkout", map[string]any{}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =========================================================================
// Webhook
// =========================================================================

func TestBillingHandler_Webhook(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	t.Run("passes payload and signature", func(t *testing.T) {
		payments := &fakePayments{}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=abc")
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, payments.payloads[0])
		assert.Equal(t, "t=1,v1=abc", payments.signatures[0])
	})

	t.Run("bad signature is 400", func(t *testing.T) {
		payments := &fakePayments{err: apperror.ValidationFailed("signature", "invalid webhook signature")}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("apply failure is 500 so Stripe retries", func(t *testing.T) {
		payments := &fakePayments{err: errors.New("db down")}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		payments := &fakePayments{}
		h := handler.NewBillingHandler(payments, false, newTestLogger())

		big := bytes.Repeat([]byte("x"), 65<<10)
		rec := httptest.NewRecorder()
		h.HandleWebhook(rec, httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(big)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, payments.payloads)
	})
}

// =========================================================================
// Health
// =========================================================================

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := handler.NewHealthHandler(fakePinger{}, "test", newTestLogger())
		rec := httptest.NewRecorder()
		h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Status string `json:"status"`
			Env    string `json:"env"`
		}
		decodeBody(t, rec, &body)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "test", body.Env)
	})

	t.Run("store down", func(t *testing.T) {
		h := handler.NewHealthHandler(fakePinger{err: errors.New("gone")}, "test", newTestLogger())
		rec := httptest.NewRecorder()
		h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

// =========================================================================
// Pages
// =========================================================================

func writeTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.html"),
		[]byte(`{{define "base"}}<html>{{template "content" .}}</html>{{end}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.html"),
		[]byte(`{{define "content"}}{{.Path}}|{{.Email}}|{{.AuthError}}{{end}}`), 0o644))
	return dir
}

func TestPageHandler_Templates(t *testing.T) {
	h, err := handler.NewPageHandler("", writeTemplates(t), newTestLogger())
	require.NoError(t, err)

	t.Run("signed in", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req = req.WithContext(auth.WithSession(req.Context(), testSession("user-1")))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "<html>/dashboard|user-1@example.com|</html>", rec.Body.String())
	})

	t.Run("auth error page escapes input", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/auth-code-error?error=%3Cb%3E", nil))
		assert.Equal(t, "<html>/auth/auth-code-error||&lt;b&gt;</html>", rec.Body.String())
	})
}

func TestPageHandler_Proxy(t *testing.T) {
	frontend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("frontend:" + r.URL.Path))
	}))
	defer frontend.Close()

	h, err := handler.NewPageHandler(frontend.URL, "", newTestLogger())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "frontend:/pricing", rec.Body.String())
}

func TestNewPageHandler_Errors(t *testing.T) {
	_, err := handler.NewPageHandler("not a url", "", newTestLogger())
	assert.Error(t, err)

	_, err = handler.NewPageHandler("", t.TempDir(), newTestLogger())
	assert.Error(t, err, "missing templates")
}
