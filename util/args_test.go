package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgs(t *testing.T) {
	positional, params := ParseArgs([]string{"quotes/AAPL", "symbol=AAPL", "price=101.5", "halted=false", "extra"})
	assert.Equal(t, []string{"quotes/AAPL", "extra"}, positional)
	assert.Equal(t, map[string]interface{}{"symbol": "AAPL", "price": 101.5, "halted": false}, params)
}

func TestParseArgsEmpty(t *testing.T) {
	positional, params := ParseArgs(nil)
	assert.Empty(t, positional)
	assert.Empty(t, params)
}

func TestKeywordArgs(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y"}, KeywordArgs([]string{"a=1", "a=2", "b=x=y", "c"}))
}
