package httpgin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEtagMatches(t *testing.T) {
	tag := etagOf([]byte(`{"id":7}`), true)

	assert.True(t, etagMatches(tag, tag))
	assert.True(t, etagMatches(tag[2:], tag), "strong form of a weak tag")
	assert.True(t, etagMatches(`"other", `+tag, tag))
	assert.True(t, etagMatches("*", tag))
	assert.False(t, etagMatches("", tag))
	assert.False(t, etagMatches(`"other"`, tag))
}
