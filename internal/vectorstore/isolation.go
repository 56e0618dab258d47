package vectorstore

// Tenant isolation is enforced twice: structurally, because each partition
// lives in its own collection, and in the payload, because every record is
// stamped with its tenant and every query filters on it.

// recordMetadata builds the stored metadata for r in p. The tenant key is
// always overwritten so a record cannot claim another tenant.
func recordMetadata(p Partition, r Record) map[string]string {
	meta := make(map[string]string, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[payloadSourceTag] = r.SourceTag
	meta[payloadTenant] = p.Tenant
	return meta
}

// tenantFilter returns the payload filter every query carries.
func tenantFilter(p Partition) map[string]string {
	return map[string]string{payloadTenant: p.Tenant}
}

// userMetadata strips the reserved keys from stored metadata.
func userMetadata(stored map[string]string) map[string]string {
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		if k == payloadTenant || k == payloadSourceTag {
			continue
		}
		out[k] = v
	}
	return out
}
