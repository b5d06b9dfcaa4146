package app

import (
	"crypto/ecdsa"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedCertificate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cert, err := selfSignedCertificate("shop.example", now)
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	require.NotNil(t, cert.Leaf)

	leaf := cert.Leaf
	assert.Equal(t, "shop.example", leaf.Subject.CommonName)
	assert.Equal(t, []string{"shop.example"}, leaf.DNSNames)
	assert.NoError(t, leaf.VerifyHostname("shop.example"))
	assert.Error(t, leaf.VerifyHostname("evil.example"))
	assert.True(t, now.Add(-time.Hour).Equal(leaf.NotBefore), "not before %s", leaf.NotBefore)
	assert.True(t, now.Add(certificateLifetime).Equal(leaf.NotAfter), "not after %s", leaf.NotAfter)

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, key.PublicKey.Equal(leaf.PublicKey))
}

func TestSelfSignedCertificate_UniqueSerials(t *testing.T) {
	a, err := selfSignedCertificate("shop.example", time.Now())
	require.NoError(t, err)
	b, err := selfSignedCertificate("shop.example", time.Now())
	require.NoError(t, err)
	assert.NotZero(t, a.Leaf.SerialNumber.Cmp(b.Leaf.SerialNumber))
}

func TestDomainServers(t *testing.T) {
	cert, err := selfSignedCertificate("shop.example", time.Now())
	require.NoError(t, err)
	handler := http.NotFoundHandler()

	httpsServer, redirect := domainServers("shop.example", handler, cert)

	assert.Equal(t, ":443", httpsServer.Addr)
	require.NotNil(t, httpsServer.TLSConfig)
	assert.Len(t, httpsServer.TLSConfig.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), httpsServer.TLSConfig.MinVersion)
	assert.Equal(t, ":80", redirect.Addr)
}

func TestRedirectToHTTPS(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://attacker.example/cart/add?id=7", nil)

	redirectToHTTPS("shop.example").ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://shop.example/cart/add?id=7", rec.Header().Get("Location"))
}
