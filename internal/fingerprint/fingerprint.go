// Package fingerprint derives the stable cache key for a query request.
//
// The normalization policy is versioned: PolicyVersion participates in the
// digest, so any change to the rules below rolls the entire cache over to
// fresh keys instead of silently mixing normalization generations.
//
// Policy v1:
//   - leading/trailing whitespace trimmed
//   - internal whitespace runs collapsed to a single space
//   - trailing semicolons stripped
//   - identifier and keyword case preserved (dialect case-insensitivity for
//     identifiers is not assumed)
//   - database, workgroup and output location appended verbatim
//
// Each field is framed with its length before hashing so that adjacent
// fields can never collide ("ab"+"c" vs "a"+"bc").
package fingerprint

import (
	"encoding/binary"
	"strings"

	"github.com/zeebo/xxh3"
)

// PolicyVersion identifies the normalization rule set. Bump on any change.
const PolicyVersion = 1

// Request is the immutable input of one query invocation.
type Request struct {
	SQL            string
	Database       string
	Workgroup      string
	OutputLocation string
}

// Fingerprint is a 128-bit digest of a normalized Request.
type Fingerprint struct {
	Hi uint64
	Lo uint64
}

// String renders the digest as 32 lowercase hex characters.
func (f Fingerprint) String() string {
	const hexdigits = "0123456789abcdef"
	var b [32]byte
	hi, lo := f.Hi, f.Lo
	for i := 15; i >= 0; i-- {
		b[i] = hexdigits[hi&0xf]
		hi >>= 4
	}
	for i := 31; i >= 16; i-- {
		b[i] = hexdigits[lo&0xf]
		lo >>= 4
	}
	return string(b[:])
}

// New computes the fingerprint of a request. Pure function, no failure mode.
func New(req Request) Fingerprint {
	var buf []byte
	buf = binary.BigEndian.AppendUint32(buf, PolicyVersion)
	buf = appendField(buf, NormalizeSQL(req.SQL))
	buf = appendField(buf, req.Database)
	buf = appendField(buf, req.Workgroup)
	buf = appendField(buf, req.OutputLocation)

	sum := xxh3.Hash128(buf)
	return Fingerprint{Hi: sum.Hi, Lo: sum.Lo}
}

// Parse reads the hex form produced by String. Used by the cache stores to
// round-trip keys; malformed input reports ok=false.
func Parse(s string) (Fingerprint, bool) {
	if len(s) != 32 {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	for i, r := range s {
		var v uint64
		switch {
		case r >= '0' && r <= '9':
			v = uint64(r - '0')
		case r >= 'a' && r <= 'f':
			v = uint64(r-'a') + 10
		default:
			return Fingerprint{}, false
		}
		if i < 16 {
			fp.Hi = fp.Hi<<4 | v
		} else {
			fp.Lo = fp.Lo<<4 | v
		}
	}
	return fp, true
}

// NormalizeSQL applies the policy's statement normalization.
func NormalizeSQL(sql string) string {
	fields := strings.Fields(sql)
	normalized := strings.Join(fields, " ")
	for strings.HasSuffix(normalized, ";") {
		normalized = strings.TrimRight(strings.TrimSuffix(normalized, ";"), " ")
	}
	return normalized
}

func appendField(buf []byte, field string) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(field)))
	return append(buf, field...)
}
