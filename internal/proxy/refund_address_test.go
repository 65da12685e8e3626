package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLightningAddress(t *testing.T) {
	assert.True(t, isLightningAddress("alice@getalby.com"))
	assert.False(t, isLightningAddress("alice@"))
	assert.False(t, isLightningAddress("@getalby.com"))
	assert.False(t, isLightningAddress("not-an-address"))
	assert.False(t, isLightningAddress("alice@localhost"))
	assert.False(t, isLightningAddress("has space@getalby.com"))
}

func TestValidateRefundAddress_LightningAddressPassesThrough(t *testing.T) {
	got, err := validateRefundAddress("alice@getalby.com")
	assert.NoError(t, err)
	assert.Equal(t, "alice@getalby.com", got)
}

func TestValidateRefundAddress_RejectsGarbage(t *testing.T) {
	_, err := validateRefundAddress("not a refund address")
	assert.Error(t, err)
}

func TestParseUnixSeconds(t *testing.T) {
	v, ok := parseUnixSeconds("1700000000")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), v)

	_, ok = parseUnixSeconds("not-a-number")
	assert.False(t, ok)

	_, ok = parseUnixSeconds("-5")
	assert.False(t, ok)

	_, ok = parseUnixSeconds("0")
	assert.False(t, ok)
}
