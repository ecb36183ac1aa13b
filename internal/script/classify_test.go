package script

import (
	"bytes"
	"testing"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/stretchr/testify/assert"
)

func push(b []byte) []byte {
	return append([]byte{byte(len(b))}, b...)
}

func TestClassifyP2PKH(t *testing.T) {
	hash := bytes.Repeat([]byte{0xAB}, 20)
	var s []byte
	s = append(s, opDup, opHash160)
	s = append(s, push(hash)...)
	s = append(s, opEqualVerify, opCheckSig)

	payload, typ := Classify(s)
	assert.Equal(t, domain.OutputP2PKH, typ)
	assert.Equal(t, hash, payload)
}

func TestClassifyP2SH(t *testing.T) {
	hash := bytes.Repeat([]byte{0xCD}, 20)
	var s []byte
	s = append(s, opHash160)
	s = append(s, push(hash)...)
	s = append(s, opEqual)

	payload, typ := Classify(s)
	assert.Equal(t, domain.OutputP2SH, typ)
	assert.Equal(t, hash, payload)
}

func TestClassifyP2PK(t *testing.T) {
	pubkey := bytes.Repeat([]byte{0x02}, 33)
	var s []byte
	s = append(s, push(pubkey)...)
	s = append(s, opCheckSig)

	payload, typ := Classify(s)
	assert.Equal(t, domain.OutputP2PK, typ)
	assert.Equal(t, hash160(pubkey), payload)
}

func TestClassifyNonStd(t *testing.T) {
	payload, typ := Classify([]byte{0x6a, 0x04, 'd', 'a', 't', 'a'}) // OP_RETURN push
	assert.Equal(t, domain.OutputNonStd, typ)
	assert.Nil(t, payload)
}

func TestClassifyTruncatedPush(t *testing.T) {
	// push claims 20 bytes but only 3 remain: must collapse to non-std,
	// never panic or error.
	payload, typ := Classify([]byte{0x14, 0x01, 0x02, 0x03})
	assert.Equal(t, domain.OutputNonStd, typ)
	assert.Nil(t, payload)
}

func TestClassifyEmpty(t *testing.T) {
	payload, typ := Classify(nil)
	assert.Equal(t, domain.OutputNonStd, typ)
	assert.Nil(t, payload)
}
