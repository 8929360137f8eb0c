package transport

import (
	"encoding/base64"

	"github.com/google/uuid"
	"github.com/source-build/ojp/internal/ojperr"
)

// DecodeUUID implements spec.md §4.9/§8 invariant 5 for UUID: nil input is
// absent (ok=false, no error); an empty string is always InvalidArgument;
// anything else must parse as a UUID.
func DecodeUUID(s *string) (uuid.UUID, bool, error) {
	if s == nil {
		return uuid.UUID{}, false, nil
	}
	if *s == "" {
		return uuid.UUID{}, false, ojperr.New(ojperr.InvalidArgument, "uuid must not be empty")
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return uuid.UUID{}, false, ojperr.Wrap(ojperr.InvalidArgument, err)
	}
	return id, true, nil
}

func EncodeUUID(id uuid.UUID, present bool) *string {
	if !present {
		return nil
	}
	s := id.String()
	return &s
}

// DecodeURL applies the identical absent/empty/malformed rule as UUID,
// deliberately not sharing code with DecodeUUID: URL validation (scheme
// presence) differs from UUID parsing even though the null-handling shape
// is the same.
func DecodeURL(s *string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	if *s == "" {
		return "", false, ojperr.New(ojperr.InvalidArgument, "url must not be empty")
	}
	if !looksLikeURL(*s) {
		return "", false, ojperr.New(ojperr.InvalidArgument, "malformed url: "+*s)
	}
	return *s, true, nil
}

func looksLikeURL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i > 0 && i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/'
		}
		if !isSchemeChar(s[i]) {
			return false
		}
	}
	return false
}

func isSchemeChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '+' || b == '-' || b == '.'
}

func EncodeURL(u string, present bool) *string {
	if !present {
		return nil
	}
	return &u
}

// RowId is opaque bytes, Base64 on the wire. Empty-bytes is a distinct
// value from absent (spec.md §4.9/§8 invariant 5): RowId{Present:true,
// Bytes:[]byte{}} round-trips as an empty, non-null value.
type RowId struct {
	Present bool
	Bytes   []byte
}

func DecodeRowId(b64 *string) (RowId, error) {
	if b64 == nil {
		return RowId{}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*b64)
	if err != nil {
		return RowId{}, ojperr.Wrap(ojperr.InvalidArgument, err)
	}
	if raw == nil {
		raw = []byte{}
	}
	return RowId{Present: true, Bytes: raw}, nil
}

func EncodeRowId(r RowId) *string {
	if !r.Present {
		return nil
	}
	s := base64.StdEncoding.EncodeToString(r.Bytes)
	return &s
}
