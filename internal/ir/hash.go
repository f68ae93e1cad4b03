package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for
// algorithm migration.
const (
	DomainShadow   = "tether/shadow/v1"
	DomainQuery    = "tether/query/v1"
	DomainIdentity = "tether/identity/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the domain-separated SHA-256 of v's canonical JSON.
func ContentHash(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// ShadowID derives a stable shadow identifier from the projection role and
// the identifier assigned by the external system. Re-linking the same
// external object always yields the same shadow id.
func ShadowID(resource, kind, intent, externalID string) string {
	obj := IRObject{
		"resource":    IRString(resource),
		"kind":        IRString(kind),
		"intent":      IRString(intent),
		"external_id": IRString(externalID),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// Only strings above; canonical marshaling cannot fail.
		panic(err)
	}
	return hashWithDomain(DomainShadow, canonical)[:32]
}
