package jwt

import (
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/pkg/errors"

	"github.com/openshift/tokengate/pkg/authorize"
)

var supportedAlgorithms = map[jose.SignatureAlgorithm]struct{}{
	jose.RS256: {}, jose.RS384: {}, jose.RS512: {},
	jose.PS256: {}, jose.PS384: {}, jose.PS512: {},
	jose.ES256: {}, jose.ES384: {}, jose.ES512: {},
	jose.EdDSA: {},
}

// Verifier checks token signatures against resolved key material. It accepts
// exactly one algorithm and never negotiates.
type Verifier struct {
	alg    jose.SignatureAlgorithm
	leeway time.Duration
}

// NewVerifier returns a verifier pinned to alg. Leeway is applied to the
// exp, nbf and iat checks.
func NewVerifier(alg string, leeway time.Duration) (*Verifier, error) {
	a := jose.SignatureAlgorithm(alg)
	if _, ok := supportedAlgorithms[a]; !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	if leeway < 0 {
		return nil, fmt.Errorf("leeway must not be negative, got %s", leeway)
	}
	return &Verifier{alg: a, leeway: leeway}, nil
}

// Algorithm returns the pinned signing algorithm.
func (v *Verifier) Algorithm() string { return string(v.alg) }

// Verify succeeds only if one of the keys in material verifies the token
// signature and the token is within its validity window. Every failure is
// reported as KindSignatureInvalid.
func (v *Verifier) Verify(tok *Token, material []byte) error {
	issuer := tok.Claims.Issuer()

	if alg := tok.Algorithm(); alg != string(v.alg) {
		return authorize.NewError(authorize.KindSignatureInvalid, issuer, fmt.Errorf("unexpected signing algorithm %q", alg))
	}

	keys, err := parseKeys(material, tok.KeyID())
	if err != nil {
		return authorize.NewError(authorize.KindSignatureInvalid, issuer, err)
	}

	public := &jwt.Claims{}
	var (
		found bool
		errs  []error
	)
	for _, key := range keys {
		if err := tok.jws.Claims(key, public); err != nil {
			errs = append(errs, err)
			continue
		}
		found = true
		break
	}
	if !found {
		return authorize.NewError(authorize.KindSignatureInvalid, issuer, multipleErrors(errs))
	}

	err = public.ValidateWithLeeway(jwt.Expected{Time: now()}, v.leeway)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrExpired):
		return authorize.NewError(authorize.KindSignatureInvalid, issuer, errors.New("token has expired"))
	default:
		return authorize.NewError(authorize.KindSignatureInvalid, issuer, errors.Wrap(err, "token could not be validated"))
	}
	return nil
}

func multipleErrors(errs []error) error {
	if len(errs) > 1 {
		return listErr(errs)
	}
	if len(errs) == 0 {
		return errors.New("no usable key")
	}
	return errs[0]
}

type listErr []error

func (errs listErr) Error() string {
	var messages []string
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return "multiple errors: " + strings.Join(messages, ", ")
}

var now = time.Now
