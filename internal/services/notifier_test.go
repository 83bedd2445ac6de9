package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotice(t *testing.T) {
	fromString, err := decodeNotice(`{"merchantCode":"M001","status":"SUCCESS","amount":"5000","referenceNumber":"R1"}`)
	require.NoError(t, err)
	assert.Equal(t, "M001", fromString.MerchantCode)
	assert.Equal(t, "5000", fromString.Amount.String())

	fromMap, err := decodeNotice(map[string]any{"merchantCode": "M002", "status": "FAILED", "amount": 120})
	require.NoError(t, err)
	assert.Equal(t, "M002", fromMap.MerchantCode)
	assert.Equal(t, "120", fromMap.Amount.String())

	_, err = decodeNotice(42)
	assert.Error(t, err)

	_, err = decodeNotice("not json")
	assert.Error(t, err)
}
