package vectorstore

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var (
	// collectionNamePattern validates collection names.
	// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
	collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

	tenantPattern     = regexp.MustCompile(`^[a-z0-9][a-z0-9_]{0,31}$`)
	generationPattern = regexp.MustCompile(`^[a-f0-9]{12}$`)
	prefixPattern     = regexp.MustCompile(`^[a-z0-9]{1,16}$`)
)

// DefaultCollectionPrefix starts every collection name.
const DefaultCollectionPrefix = "ragd"

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalid)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalid, name)
	}
	return nil
}

// ValidateTenant checks a tenant name.
func ValidateTenant(tenant string) error {
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("%w: tenant must match %s, got %q", ErrInvalid, tenantPattern, tenant)
	}
	return nil
}

// ValidatePrefix checks a collection prefix.
func ValidatePrefix(prefix string) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: collection prefix must match %s, got %q", ErrInvalidConfig, prefixPattern, prefix)
	}
	return nil
}

// NewGeneration returns a random 12-hex-character generation ID.
func NewGeneration() string {
	id := uuid.New()
	return hex.EncodeToString(id[:6])
}

// CollectionName maps a partition to its backend collection.
func CollectionName(prefix string, p Partition) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	name := prefix + "_" + p.Tenant + "_" + p.Generation
	if err := ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}

// parseCollectionName inverts CollectionName. Tenants may contain
// underscores, so the generation is taken from the last segment.
func parseCollectionName(prefix, name string) (Partition, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"_")
	if !ok {
		return Partition{}, false
	}
	i := strings.LastIndexByte(rest, '_')
	if i < 0 {
		return Partition{}, false
	}
	p := Partition{Tenant: rest[:i], Generation: rest[i+1:]}
	if p.Validate() != nil {
		return Partition{}, false
	}
	return p, true
}

// tenantPartitions filters collection names down to tenant's partitions.
func tenantPartitions(prefix, tenant string, names []string) []Partition {
	sort.Strings(names)
	var out []Partition
	for _, name := range names {
		if p, ok := parseCollectionName(prefix, name); ok && p.Tenant == tenant {
			out = append(out, p)
		}
	}
	return out
}

// checkVector validates an embedding against the index width.
func checkVector(v []float32, dimension int) error {
	if len(v) != dimension {
		return &DimensionMismatchError{Want: dimension, Got: len(v)}
	}
	return nil
}
