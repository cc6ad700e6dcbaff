package authorize

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
)

const (
	DefaultHeader = "Authorization"
	DefaultScheme = "Bearer"
)

// Extractor pulls the raw credential out of a request.
type Extractor interface {
	Extract(req *http.Request) (string, error)
}

// HeaderExtractor reads "<Scheme> <credential>" from a request header.
type HeaderExtractor struct {
	Header string
	Scheme string
}

// NewHeaderExtractor returns a header extractor, falling back to the
// Authorization header and the Bearer scheme.
func NewHeaderExtractor(header, scheme string) *HeaderExtractor {
	if header == "" {
		header = DefaultHeader
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	return &HeaderExtractor{Header: header, Scheme: scheme}
}

func (e *HeaderExtractor) Extract(req *http.Request) (string, error) {
	value := strings.TrimSpace(req.Header.Get(e.Header))
	if value == "" {
		return "", NewError(KindMissingCredential, "", fmt.Errorf("header %s not set", e.Header))
	}

	// The scheme is case-insensitive (RFC 7235) and must be followed by whitespace.
	scheme, credential := value, ""
	if i := strings.IndexFunc(value, unicode.IsSpace); i >= 0 {
		scheme, credential = value[:i], strings.TrimSpace(value[i:])
	}
	if !strings.EqualFold(scheme, e.Scheme) {
		return "", NewError(KindMalformedCredential, "", fmt.Errorf("only %s authorization allowed", e.Scheme))
	}
	if credential == "" {
		return "", NewError(KindMalformedCredential, "", fmt.Errorf("invalid %s header", e.Header))
	}
	return credential, nil
}

// CookieExtractor reads the raw credential from a named cookie.
type CookieExtractor struct {
	Name string
}

func (e *CookieExtractor) Extract(req *http.Request) (string, error) {
	c, err := req.Cookie(e.Name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", NewError(KindMissingCredential, "", fmt.Errorf("cookie %s not set", e.Name))
		}
		return "", NewError(KindMissingCredential, "", err)
	}
	if strings.TrimSpace(c.Value) == "" {
		return "", NewError(KindMissingCredential, "", fmt.Errorf("cookie %s is empty", e.Name))
	}
	return c.Value, nil
}
