package jwt

import (
	"bytes"
	"crypto"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
)

var pemPrefix = []byte("-----BEGIN")

// parseKeys turns resolved key material into public keys. Material is either
// one or more PEM blocks (public keys or certificates) or a JWK / JWK set.
// When kid is set and matches a key, only that key is returned.
func parseKeys(material []byte, kid string) ([]crypto.PublicKey, error) {
	material = bytes.TrimSpace(material)
	if len(material) == 0 {
		return nil, errors.New("empty key material")
	}

	var opts []jwk.ParseOption
	if bytes.HasPrefix(material, pemPrefix) {
		opts = append(opts, jwk.WithPEM(true))
	}
	set, err := jwk.Parse(material, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "parse key material")
	}
	if set.Len() == 0 {
		return nil, errors.New("key material holds no keys")
	}

	if kid != "" {
		if key, ok := set.LookupKeyID(kid); ok {
			pub, err := jwk.PublicRawKeyOf(key)
			if err != nil {
				return nil, errors.Wrapf(err, "key %q", kid)
			}
			return []crypto.PublicKey{pub}, nil
		}
	}

	keys := make([]crypto.PublicKey, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		pub, err := jwk.PublicRawKeyOf(key)
		if err != nil {
			return nil, errors.Wrapf(err, "key %d", i)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}
