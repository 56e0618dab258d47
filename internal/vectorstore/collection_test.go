package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionName(t *testing.T) {
	name, err := CollectionName("ragd", Partition{Tenant: "acme_labs", Generation: "0123456789ab"})
	require.NoError(t, err)
	assert.Equal(t, "ragd_acme_labs_0123456789ab", name)

	p, ok := parseCollectionName("ragd", name)
	require.True(t, ok)
	assert.Equal(t, Partition{Tenant: "acme_labs", Generation: "0123456789ab"}, p)
}

func TestCollectionName_Invalid(t *testing.T) {
	for _, p := range []Partition{
		{Tenant: "", Generation: "0123456789ab"},
		{Tenant: "../etc", Generation: "0123456789ab"},
		{Tenant: "Acme", Generation: "0123456789ab"},
		{Tenant: "acme", Generation: "0123456789AB"},
		{Tenant: "acme", Generation: "abc"},
	} {
		_, err := CollectionName("ragd", p)
		assert.ErrorIs(t, err, ErrInvalid, "partition %v", p)
	}
}

func TestParseCollectionName_Rejects(t *testing.T) {
	for _, name := range []string{
		"other_acme_0123456789ab",
		"ragd_acme",
		"ragd_acme_nothex",
		"ragd__0123456789ab",
	} {
		_, ok := parseCollectionName("ragd", name)
		assert.False(t, ok, name)
	}
}

func TestTenantPartitions(t *testing.T) {
	names := []string{
		"ragd_acme_000000000002",
		"ragd_acme_labs_000000000009",
		"ragd_acme_000000000001",
		"legacy_collection",
	}
	assert.Equal(t, []Partition{
		{Tenant: "acme", Generation: "000000000001"},
		{Tenant: "acme", Generation: "000000000002"},
	}, tenantPartitions("ragd", "acme", names))
	assert.Empty(t, tenantPartitions("ragd", "globex", names))
}

func TestNewGeneration(t *testing.T) {
	a, b := NewGeneration(), NewGeneration()
	assert.Regexp(t, `^[a-f0-9]{12}$`, a)
	assert.NotEqual(t, a, b)
}

func TestValidatePrefix(t *testing.T) {
	assert.NoError(t, ValidatePrefix("ragd"))
	assert.ErrorIs(t, ValidatePrefix(""), ErrInvalidConfig)
	assert.ErrorIs(t, ValidatePrefix("has_underscore"), ErrInvalidConfig)
}

func TestRecordMetadata(t *testing.T) {
	p := Partition{Tenant: "acme", Generation: "0123456789ab"}
	meta := recordMetadata(p, Record{SourceTag: "s-1", Metadata: map[string]string{"k": "v", payloadTenant: "evil"}})
	assert.Equal(t, "acme", meta[payloadTenant])
	assert.Equal(t, "s-1", meta[payloadSourceTag])
	assert.Equal(t, map[string]string{"k": "v"}, userMetadata(meta))
	assert.Equal(t, map[string]string{payloadTenant: "acme"}, tenantFilter(p))
}
