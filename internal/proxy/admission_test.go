package proxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"routstr-proxy/internal/cashu"
	"routstr-proxy/internal/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRates struct{ usdPerSat float64 }

func (f *fakeRates) SatsUSDAsk() (float64, error) { return f.usdPerSat, nil }

func newTestCatalog(t *testing.T, content string) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	c := catalog.New(&fakeRates{usdPerSat: 1.0 / 2000}, path, nil)
	require.NoError(t, c.LoadFromFile())
	return c
}

func TestGetMaxCostForModel_FlatWhenModelBasedDisabled(t *testing.T) {
	h := &Handler{cfg: Config{ModelBasedPricing: false, CostPerRequestMsat: 1000}}
	assert.Equal(t, int64(1000), h.getMaxCostForModel("gpt-4"))
}

func TestGetMaxCostForModel_FlatWhenCatalogEmpty(t *testing.T) {
	c := newTestCatalog(t, `[]`)
	h := &Handler{cfg: Config{ModelBasedPricing: true, CostPerRequestMsat: 1000}, catalog: c}
	assert.Equal(t, int64(1000), h.getMaxCostForModel("gpt-4"))
}

func TestGetMaxCostForModel_FlatWhenModelNameEmpty(t *testing.T) {
	c := newTestCatalog(t, `[{"id":"gpt-4","name":"GPT-4","context_length":8192,"pricing":{"prompt":0.00003,"completion":0.00006},"top_provider":{"context_length":8192,"max_completion_tokens":4096}}]`)
	h := &Handler{cfg: Config{ModelBasedPricing: true, CostPerRequestMsat: 1000}, catalog: c}
	assert.Equal(t, int64(1000), h.getMaxCostForModel(""))
}

func TestGetMaxCostForModel_FlatWhenModelNotFound(t *testing.T) {
	c := newTestCatalog(t, `[{"id":"gpt-4","name":"GPT-4","context_length":8192,"pricing":{"prompt":0.00003,"completion":0.00006},"top_provider":{"context_length":8192,"max_completion_tokens":4096}}]`)
	h := &Handler{cfg: Config{ModelBasedPricing: true, CostPerRequestMsat: 1000}, catalog: c}
	assert.Equal(t, int64(1000), h.getMaxCostForModel("unknown-model"))
}

func TestGetMaxCostForModel_ModelBasedAppliesTolerance(t *testing.T) {
	c := newTestCatalog(t, `[{"id":"gpt-4","name":"GPT-4","context_length":8192,"pricing":{"prompt":0.00003,"completion":0.00006},"top_provider":{"context_length":8192,"max_completion_tokens":4096}}]`)
	h := &Handler{cfg: Config{ModelBasedPricing: true, CostPerRequestMsat: 1000, TolerancePercent: 10}, catalog: c}

	model, ok := c.Lookup("gpt-4")
	require.True(t, ok)
	require.NotNil(t, model.SatsPricing)

	want := int64(model.SatsPricing.MaxCost * 1000 * 0.9)
	assert.Equal(t, want, h.getMaxCostForModel("gpt-4"))
}

type fakeWalletAdmission struct {
	receiveResult cashu.ReceiveResult
	receiveErr    error
}

func (f *fakeWalletAdmission) Receive(ctx context.Context, rawToken string) (cashu.ReceiveResult, error) {
	return f.receiveResult, f.receiveErr
}
func (f *fakeWalletAdmission) Send(ctx context.Context, amount int64, unit string, mintURL string) (string, error) {
	return "", errors.New("not used")
}
func (f *fakeWalletAdmission) Balance(ctx context.Context) (int64, error) { return 0, nil }

func TestAdmitCashu_RedeemsAndAcceptsSufficientToken(t *testing.T) {
	wallet := &fakeWalletAdmission{receiveResult: cashu.ReceiveResult{AmountMsat: 5000, Unit: "msat", MintURL: "https://mint.example"}}
	h := &Handler{wallet: wallet}

	result, err := h.admitCashu(context.Background(), "cashuAtoken", 4000, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.preAuthMsat)
	assert.Equal(t, "msat", result.cashuUnit)
	assert.Equal(t, "https://mint.example", result.cashuMint)
}

func TestAdmitCashu_RedeemsButInsufficientStillConsumesToken(t *testing.T) {
	wallet := &fakeWalletAdmission{receiveResult: cashu.ReceiveResult{AmountMsat: 1000, Unit: "msat", MintURL: "https://mint.example"}}
	h := &Handler{wallet: wallet}

	_, err := h.admitCashu(context.Background(), "cashuAtoken", 4000, "gpt-4")
	require.Error(t, err)

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, RailCashu, insufficient.Rail)
	assert.Equal(t, int64(4000), insufficient.AmountRequiredMsat)
}

func TestAdmitCashu_RedemptionFailurePropagates(t *testing.T) {
	wallet := &fakeWalletAdmission{receiveErr: cashu.ErrAlreadySpent}
	h := &Handler{wallet: wallet}

	_, err := h.admitCashu(context.Background(), "cashuAtoken", 4000, "gpt-4")
	assert.ErrorIs(t, err, cashu.ErrAlreadySpent)
}
