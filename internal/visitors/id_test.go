package visitors_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"footfall/internal/visitors"
)

func TestNewID(t *testing.T) {
	a := visitors.NewID()
	b := visitors.NewID()

	assert.NotEqual(t, a, b)
	assert.True(t, visitors.Valid(a))
	assert.Len(t, a, 36)
}

func TestValid(t *testing.T) {
	assert.False(t, visitors.Valid(""))
	assert.False(t, visitors.Valid("not-a-uuid"))
	assert.False(t, visitors.Valid("6ba7b810-9dad-11d1-80b4-00c04fd430c8"), "v1 ids are not ours")
	assert.True(t, visitors.Valid(strings.ToUpper(visitors.NewID())))
}

func TestEnsure(t *testing.T) {
	id := visitors.NewID()

	got, issued := visitors.Ensure(id)
	assert.Equal(t, id, got)
	assert.False(t, issued)

	got, issued = visitors.Ensure("garbage")
	assert.True(t, issued)
	assert.True(t, visitors.Valid(got))
}

func TestAlias(t *testing.T) {
	id := visitors.NewID()

	assert.Equal(t, visitors.Alias(id), visitors.Alias(id))
	assert.Equal(t, visitors.Alias(id), visitors.Alias(strings.ToUpper(id)))
	assert.Regexp(t, `^[A-Z][a-z]+ [A-Z][a-z]+$`, visitors.Alias(id))
	assert.Equal(t, "Anonymous", visitors.Alias(""))
}
