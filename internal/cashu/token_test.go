package cashu

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"routstr-proxy/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = logger.Init("development")
}

func buildTestToken(t *testing.T, mint string, unit string, amounts ...int64) string {
	t.Helper()
	proofs := make([]Proof, 0, len(amounts))
	for i, amt := range amounts {
		proofs = append(proofs, Proof{ID: "00", Amount: amt, Secret: "secret-" + string(rune('a'+i)), C: "c"})
	}
	tok := tokenV3{Token: []tokenEntry{{Mint: mint, Proofs: proofs}}, Unit: unit}
	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	return tokenV3Prefix + base64.RawURLEncoding.EncodeToString(raw)
}

func TestParseToken_Success(t *testing.T) {
	raw := buildTestToken(t, "https://mint.example.com", "sat", 4, 8)

	parsed, err := ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://mint.example.com", parsed.MintURL)
	assert.Equal(t, "sat", parsed.Unit)
	assert.Equal(t, int64(12), parsed.Amount)
}

func TestParseToken_DefaultsUnitToSat(t *testing.T) {
	raw := buildTestToken(t, "https://mint.example.com", "", 1)
	parsed, err := ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "sat", parsed.Unit)
}

func TestParseToken_RejectsUnknownEncoding(t *testing.T) {
	_, err := ParseToken("cashuBdeadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsGarbage(t *testing.T) {
	_, err := ParseToken("cashuAnot-valid-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_RejectsMultiMint(t *testing.T) {
	tok := tokenV3{
		Token: []tokenEntry{
			{Mint: "https://a.example.com", Proofs: []Proof{{Amount: 1}}},
			{Mint: "https://b.example.com", Proofs: []Proof{{Amount: 1}}},
		},
		Unit: "sat",
	}
	raw, err := json.Marshal(tok)
	require.NoError(t, err)
	encoded := tokenV3Prefix + base64.RawURLEncoding.EncodeToString(raw)

	_, err = ParseToken(encoded)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParsedToken_AmountMsat(t *testing.T) {
	satToken, err := ParseToken(buildTestToken(t, "https://mint.example.com", "sat", 5))
	require.NoError(t, err)
	amt, err := satToken.AmountMsat()
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amt)

	msatToken, err := ParseToken(buildTestToken(t, "https://mint.example.com", "msat", 5000))
	require.NoError(t, err)
	amt, err = msatToken.AmountMsat()
	require.NoError(t, err)
	assert.Equal(t, int64(5000), amt)
}
