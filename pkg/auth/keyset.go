package auth

import (
	"encoding/json"

	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

// KeyDescriptor is one entry of a provider's published key set.
type KeyDescriptor struct {
	Kty string   `json:"kty"`
	Kid string   `json:"kid"`
	Use string   `json:"use,omitempty"`
	Alg string   `json:"alg,omitempty"`
	N   string   `json:"n,omitempty"`
	E   string   `json:"e,omitempty"`
	X5c []string `json:"x5c,omitempty"`
	X5t string   `json:"x5t,omitempty"`
}

// KeySet is a provider's key-set document, {"keys": [...]}.
type KeySet struct {
	Keys []KeyDescriptor `json:"keys"`
}

// Find returns the first descriptor whose kid equals kid exactly.
func (s *KeySet) Find(kid string) (KeyDescriptor, bool) {
	if s == nil {
		return KeyDescriptor{}, false
	}
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return KeyDescriptor{}, false
}

// KeyIDs lists the kids in document order.
func (s *KeySet) KeyIDs() []string {
	ids := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		ids = append(ids, k.Kid)
	}
	return ids
}

// ParseKeySet decodes a key-set document. A body that is not JSON or has no
// "keys" member fails with [sserr.CodeInternalKeySet].
func ParseKeySet(raw []byte) (*KeySet, error) {
	var doc struct {
		Keys *[]KeyDescriptor `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalKeySet, "auth: key set is not valid JSON")
	}
	if doc.Keys == nil {
		return nil, sserr.New(sserr.CodeInternalKeySet, "auth: key set has no keys member")
	}
	return &KeySet{Keys: *doc.Keys}, nil
}
