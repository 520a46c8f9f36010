package zarinpal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{MerchantID: "merchant-1", BaseURL: srv.URL + "/"}, gateway.NewHTTPClient(5*time.Second, nil, nil))
}

func readJSON(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	return m
}

func TestClient_CreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, requestPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body := readJSON(t, r)
		assert.Equal(t, "merchant-1", body["merchant_id"])
		assert.Equal(t, float64(502700), body["amount"])
		assert.Equal(t, "https://shop.example/return", body["callback_url"])
		assert.Equal(t, map[string]any{"order_id": "order-1"}, body["metadata"])

		_, _ = io.WriteString(w, `{"data":{"code":100,"message":"Success","authority":"A0000012345","fee_type":"Merchant","fee":100},"errors":[]}`)
	})

	sess, err := c.CreateSession(context.Background(), payment.SessionRequest{
		OrderID:   "order-1",
		Amount:    502700,
		Currency:  "IRR",
		ReturnURL: "https://shop.example/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "A0000012345", sess.Authority)
	assert.Equal(t, c.cfg.BaseURL+"/pg/StartPay/A0000012345", sess.ApprovalURL)
}

func TestClient_CreateSession_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"data":[],"errors":{"code":-9,"message":"The input params invalid, validation error.","validations":[]}}`)
	})

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{Amount: 1})
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "-9")
}

func TestClient_CreateSession_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateSession(context.Background(), payment.SessionRequest{Amount: 1})
	require.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

func TestClient_Verify(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantSuccess bool
		wantRef     string
	}{
		{
			name:        "paid",
			response:    `{"data":{"code":100,"message":"Verified","ref_id":201,"card_pan":"502229******5995"},"errors":[]}`,
			wantSuccess: true,
			wantRef:     "201",
		},
		{
			name:        "already verified",
			response:    `{"data":{"code":101,"message":"Verified","ref_id":201},"errors":[]}`,
			wantSuccess: true,
			wantRef:     "201",
		},
		{
			name:     "not paid",
			response: `{"data":[],"errors":{"code":-51,"message":"Session is not valid, session is not active paid try.","validations":[]}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, verifyPath, r.URL.Path)
				body := readJSON(t, r)
				assert.Equal(t, "A1", body["authority"])
				assert.Equal(t, float64(1000), body["amount"])
				_, _ = io.WriteString(w, tt.response)
			})

			v, err := c.Verify(context.Background(), "A1", 1000)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, v.Success)
			assert.Equal(t, tt.wantRef, v.RefID)
			assert.NotEmpty(t, v.Message)
		})
	}
}

func TestClient_Verify_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html>maintenance</html>`)
	})

	_, err := c.Verify(context.Background(), "A1", 1000)
	require.Error(t, err)
}

func TestParseReturn(t *testing.T) {
	cb, err := ParseReturn(url.Values{"Authority": {"A1"}, "Status": {"OK"}, "order_id": {"order-1"}})
	require.NoError(t, err)
	assert.Equal(t, payment.Callback{
		Gateway:   Name,
		Authority: "A1",
		OrderID:   "order-1",
		Outcome:   payment.OutcomeNeedsVerification,
	}, cb)

	cb, err = ParseReturn(url.Values{"Authority": {"A1"}, "Status": {"NOK"}})
	require.NoError(t, err)
	assert.Equal(t, payment.OutcomeFailed, cb.Outcome)

	_, err = ParseReturn(url.Values{"Status": {"OK"}})
	assert.Equal(t, apperr.BadPayload, apperr.CodeOf(err))

	_, err = ParseReturn(url.Values{"Authority": {"A1"}, "Status": {"MAYBE"}})
	assert.Equal(t, apperr.BadPayload, apperr.CodeOf(err))
}
