package dao

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"
)

// RefSize is the byte length of a ContentRef: a CIDv1 with the raw codec and
// a sha2-256 multihash.
const RefSize = 36

var refPrefix = [4]byte{0x01, 0x55, 0x12, 0x20}

var refEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ContentRef is an opaque, fixed-length content hash of an off-chain body.
// The core stores and compares refs but never dereferences them.
type ContentRef [RefSize]byte

// RefFor returns the ref of body.
func RefFor(body []byte) ContentRef {
	var r ContentRef
	copy(r[:4], refPrefix[:])
	sum := sha256.Sum256(body)
	copy(r[4:], sum[:])
	return r
}

// ParseRef decodes the multibase base32 text form ("b...").
func ParseRef(s string) (ContentRef, error) {
	var r ContentRef
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != 'b' {
		return r, fmt.Errorf("%w: %q", ErrInvalidContentRef, s)
	}
	raw, err := refEncoding.DecodeString(s[1:])
	if err != nil || len(raw) != RefSize {
		return r, fmt.Errorf("%w: %q", ErrInvalidContentRef, s)
	}
	copy(r[:], raw)
	if err := r.Validate(); err != nil {
		return ContentRef{}, err
	}
	return r, nil
}

// Validate checks the CID header. The digest itself is never interpreted.
func (r ContentRef) Validate() error {
	if !bytes.Equal(r[:4], refPrefix[:]) {
		return fmt.Errorf("%w: unexpected header %x", ErrInvalidContentRef, r[:4])
	}
	return nil
}

// IsZero reports whether r was never set.
func (r ContentRef) IsZero() bool { return r == ContentRef{} }

func (r ContentRef) String() string {
	return "b" + refEncoding.EncodeToString(r[:])
}

// MarshalText encodes the zero ref as an empty string.
func (r ContentRef) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

func (r *ContentRef) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = ContentRef{}
		return nil
	}
	parsed, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// SpendTopic derives the topic ref of the vote that gates a spend proposal.
func SpendTopic(bank BankID, spend SpendID) ContentRef {
	return RefFor([]byte(fmt.Sprintf("spend:%d:%d", bank, spend)))
}
