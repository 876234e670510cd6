package stdlib

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	x608 "github.com/x608-foundation/x608/go"
)

func testHandler(t *testing.T, opts ...Option) http.Handler {
	t.Helper()

	config := x608.MerchantConfig{
		PriceUSD:         decimal.RequireFromString("0.05"),
		Routes:           []x608.AssetID{"base:USDC"},
		SettleAsset:      "base:USDC",
		RecipientAddress: "0xMerchant",
	}
	middleware, err := PaymentMiddleware(config, opts...)
	if err != nil {
		t.Fatalf("PaymentMiddleware failed: %v", err)
	}
	return middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("premium content"))
	}))
}

func TestPaymentMiddleware_ChallengeOnMissingPayment(t *testing.T) {
	handler := testHandler(t)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/content", nil))

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d", w.Code)
	}
	if w.Header().Get(x608.HeaderChallenge) == "" {
		t.Error("Expected challenge header")
	}
	if w.Header().Get(x608.HeaderPriceUSD) != "0.05" {
		t.Errorf("Expected price header 0.05, got %q", w.Header().Get(x608.HeaderPriceUSD))
	}
}

func TestPaymentMiddleware_PaymentPassesThrough(t *testing.T) {
	handler := testHandler(t)

	payment, err := json.Marshal(x608.Payment{
		ChallengeID:    "x608_test",
		IdempotencyKey: "ik_test",
		TxHash:         "0xaaa",
	})
	if err != nil {
		t.Fatalf("marshal payment: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/content", nil)
	req.Header.Set(x608.HeaderPayment, string(payment))
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if w.Body.String() != "premium content" {
		t.Errorf("Expected handler body, got %q", w.Body.String())
	}
}

func TestPaymentMiddleware_MalformedPayment(t *testing.T) {
	handler := testHandler(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/content", nil)
	req.Header.Set(x608.HeaderPayment, "{not json")
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}
