package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(Limits{MaxTextInputMB: 1, MaxUploadMB: 10})

	require.NoError(t, r.Validate())
	assert.Equal(t, []string{SlugBase64, SlugJSONFormatter, SlugURLEncoder}, r.Cacheable())

	list := r.List()
	require.Len(t, list, 4)
	assert.Equal(t, SlugBase64, list[0].Slug)

	hash, ok := r.Get(SlugHashGenerator)
	require.True(t, ok)
	assert.Equal(t, 10, hash.MaxUploadMB)
	assert.True(t, hash.AcceptsPipelineFiles)

	consumers := r.Consumers(SlugBase64)
	require.Len(t, consumers, 1)
	assert.Equal(t, SlugHashGenerator, consumers[0].Slug)
	assert.Empty(t, r.Consumers(SlugURLEncoder))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Info{Slug: "a"}))
	assert.Error(t, r.Register(Info{Slug: "a"}))
	assert.Error(t, r.Register(Info{}))

	require.NoError(t, r.Register(Info{Slug: "b", SuggestedNext: []Relation{{Slug: "missing"}}}))
	assert.Error(t, r.Validate())
}
