package token

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	coreoidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/tzhukov/pollprobe/logger"
)

// IDTokenVerifier is the part of *coreoidc.IDTokenVerifier used here.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*coreoidc.IDToken, error)
}

// OIDCParser verifies the token signature against an OIDC issuer before
// exposing its claims. Expiry is not enforced so that an expired token can
// still be inspected.
type OIDCParser struct {
	verifier IDTokenVerifier
}

func NewOIDCParserWithVerifier(v IDTokenVerifier) *OIDCParser {
	return &OIDCParser{verifier: v}
}

// NewOIDCParser discovers the issuer and builds a verifier for clientID.
// caFile, when set, replaces the trusted roots used to reach the issuer.
func NewOIDCParser(ctx context.Context, issuer, clientID, caFile string) (*OIDCParser, error) {
	if caFile != "" {
		c := &http.Client{}
		if err := addCustomCA(c, caFile); err != nil {
			return nil, err
		}
		ctx = coreoidc.ClientContext(ctx, c)
	}
	p, err := coreoidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
	}
	logger.Info("oidc provider initialized", logger.FieldKV("issuer", issuer))
	v := p.Verifier(&coreoidc.Config{ClientID: clientID, SkipExpiryCheck: true})
	return &OIDCParser{verifier: v}, nil
}

func (p *OIDCParser) Parse(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}
	tok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	c := &Claims{Subject: tok.Subject, Issuer: tok.Issuer}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		c.ExpiresAt = &exp
	}
	return c, nil
}

// addCustomCA loads a PEM bundle from path and sets it as the client's RootCAs.
func addCustomCA(c *http.Client, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return fmt.Errorf("no certs appended from %s", path)
	}
	tr, _ := c.Transport.(*http.Transport)
	if tr == nil {
		tr = &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{RootCAs: pool}
	} else {
		tr.TLSClientConfig.RootCAs = pool
	}
	c.Transport = tr
	logger.Info("custom CA trust added for OIDC", logger.FieldKV("path", path))
	return nil
}
