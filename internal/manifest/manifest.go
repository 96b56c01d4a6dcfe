// Package manifest derives deterministic application identifiers.
//
// An app id is a domain-separated SHA-256 over the canonical JSON encoding
// of the program digest and its registration metadata. The derivation is a
// pure function of its inputs, so clients can compute the id locally before
// (or instead of) calling RegisterApp, and re-registering identical bytes
// always yields the same id.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zkforge/zkforge/internal/digest"
)

// DomainApp is the domain prefix for app identity hashing.
// The version suffix enables future algorithm migration.
const DomainApp = "zkforge/app/v1"

// AppInfo is the optional metadata supplied at registration.
type AppInfo struct {
	Name        string
	Description string
}

// AppID computes the deterministic identifier for a program and its
// optional metadata. The program itself is bound through its keccak digest
// so the canonical form stays small regardless of program size.
func AppID(program []byte, info AppInfo) (string, error) {
	pd := digest.Keccak256(program)
	obj := map[string]any{
		"program_keccak": hex.EncodeToString(pd[:]),
		"name":           info.Name,
		"description":    info.Description,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("app id: marshal manifest: %w", err)
	}
	return hashWithDomain(DomainApp, canonical), nil
}

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain || 0x00 || data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
