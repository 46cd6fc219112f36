package feed

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func word(v *big.Int) []byte {
	raw := make([]byte, 32)
	v.FillBytes(raw)
	return raw
}

func TestDecodeAnswerPositive(t *testing.T) {
	// 65,000.12345678 at 8 decimals.
	v := big.NewInt(6_500_012_345_678)
	got := decodeAnswer(word(v))
	assert.Zero(t, got.Cmp(v))
	assert.Equal(t, 1, got.Sign())
}

func TestDecodeAnswerNegativeIsSigned(t *testing.T) {
	// int256(-1) on the wire is 32 bytes of 0xff. Decoded unsigned it would
	// be 2^256-1, sailing past the positivity guard as a huge price.
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = 0xff
	}
	got := decodeAnswer(raw)
	assert.Zero(t, got.Cmp(big.NewInt(-1)))

	neg := new(big.Int).Neg(big.NewInt(6_500_012_345_678))
	raw = word(new(big.Int).Add(wordModulus, neg))
	got = decodeAnswer(raw)
	assert.Zero(t, got.Cmp(neg))
	assert.Equal(t, -1, got.Sign())
}

func TestDecodeAnswerShortWord(t *testing.T) {
	// Some RPCs trim leading zeroes; anything shorter than a full word
	// cannot carry a sign bit.
	got := decodeAnswer([]byte{0x80})
	assert.Zero(t, got.Cmp(big.NewInt(0x80)))
}
