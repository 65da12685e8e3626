package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"routstr-proxy/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name        string
		provider    string
		expectError bool
	}{
		{"Kraken lowercase", "kraken", false},
		{"Coinbase uppercase", "COINBASE", false},
		{"Binance mixed case", "Binance", false},
		{"Unknown provider", "unknown", true},
		{"Empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewProvider(tt.provider, "", nil, 5*time.Second)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, provider)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, provider)
			}
		})
	}
}

func TestKraken_GetPrice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/Ticker", r.URL.Path)
		response := krakenTickerResponse{
			Result: map[string]struct {
				Close []string `json:"c"`
			}{
				"XXBTZUSD": {Close: []string{"65000.5", "1.0"}},
			},
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewProvider("kraken", server.URL, server.Client(), 5*time.Second)
	require.NoError(t, err)

	price, err := provider.GetPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 65000.5, price)
}

func TestCoinbase_GetPrice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/prices/BTC-USD/spot", r.URL.Path)
		response := coinbasePriceResponse{}
		response.Data.Amount = "64500.25"
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewProvider("coinbase", server.URL, server.Client(), 5*time.Second)
	require.NoError(t, err)

	price, err := provider.GetPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64500.25, price)
}

func TestBinance_GetPrice_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		response := binanceTickerResponse{Price: "64800.10"}
		_ = json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	provider, err := NewProvider("binance", server.URL, server.Client(), 5*time.Second)
	require.NoError(t, err)

	price, err := provider.GetPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64800.10, price)
}

func TestFetchJSON_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider, err := NewProvider("binance", server.URL, server.Client(), 5*time.Second)
	require.NoError(t, err)

	_, err = provider.GetPrice(context.Background())
	assert.Error(t, err)
}
