package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed hashes.
// The version suffix allows a future algorithm migration.
const (
	DomainProgram = "hive/program/v1"
	DomainArgs    = "hive/args/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash identifies a compiled program by its NFC-normalized source.
// Two sources that differ only in Unicode normalization hash the same.
func ProgramHash(source string) string {
	return hashWithDomain(DomainProgram, []byte(norm.NFC.String(source)))
}

// ArgsHash hashes invocation arguments for the audit log so that raw
// argument values never need to be stored.
func ArgsHash(args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	canonical, err := MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("ArgsHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainArgs, canonical), nil
}
