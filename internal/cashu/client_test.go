package cashu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCheckStateServer(t *testing.T, spentSecrets map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkstate", r.URL.Path)
		var req checkStateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := checkStateResponse{}
		for _, y := range req.Ys {
			state := proofUnspent
			if spentSecrets[y] {
				state = proofSpent
			}
			resp.States = append(resp.States, checkStateEntry{Y: y, State: state})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_Receive_CreditsPoolAndReturnsAmount(t *testing.T) {
	server := newCheckStateServer(t, nil)
	defer server.Close()

	c := NewClient(Config{SendRetries: 3, RequestTimeout: time.Second}, server.Client())
	raw := buildTestToken(t, server.URL, "sat", 10, 5)

	result, err := c.Receive(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), result.AmountMsat)
	assert.Equal(t, "sat", result.Unit)
	assert.Equal(t, server.URL, result.MintURL)

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance)
}

func TestClient_Receive_AlreadySpent(t *testing.T) {
	server := newCheckStateServer(t, map[string]bool{"secret-a": true})
	defer server.Close()

	c := NewClient(Config{SendRetries: 3, RequestTimeout: time.Second}, server.Client())
	raw := buildTestToken(t, server.URL, "sat", 10)

	_, err := c.Receive(context.Background(), raw)
	assert.ErrorIs(t, err, ErrAlreadySpent)
}

func TestClient_Receive_MintError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(Config{SendRetries: 3, RequestTimeout: time.Second}, server.Client())
	raw := buildTestToken(t, server.URL, "sat", 10)

	_, err := c.Receive(context.Background(), raw)
	assert.ErrorIs(t, err, ErrMintError)
}

func TestClient_Send_DrawsFromHeldPool(t *testing.T) {
	server := newCheckStateServer(t, nil)
	defer server.Close()

	c := NewClient(Config{SendRetries: 3, RequestTimeout: time.Second}, server.Client())
	raw := buildTestToken(t, server.URL, "sat", 10, 5)
	_, err := c.Receive(context.Background(), raw)
	require.NoError(t, err)

	token, err := c.Send(context.Background(), 10, "sat", server.URL)
	require.NoError(t, err)
	assert.Contains(t, token, tokenV3Prefix)

	balance, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestClient_Send_FailsAfterRetriesWhenPoolInsufficient(t *testing.T) {
	c := NewClient(Config{SendRetries: 3, RequestTimeout: time.Second}, http.DefaultClient)

	_, err := c.Send(context.Background(), 100, "sat", "https://mint.example.com")
	assert.ErrorIs(t, err, ErrSendTokenFailed)
}
