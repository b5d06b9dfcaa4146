package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"cashfity/pkg/httpapi"
)

// certificateLifetime bounds the self-signed certificate used with --domain.
const certificateLifetime = 90 * 24 * time.Hour

// runDomainServers serves HTTPS on :443 and redirects plain HTTP from :80.
func runDomainServers(ctx context.Context, domain string, srv *httpapi.Server, logger *zap.Logger) error {
	cert, err := selfSignedCertificate(domain, time.Now())
	if err != nil {
		return errors.Wrap(err, "generate certificate")
	}
	httpsServer, httpRedirect := domainServers(domain, srv.Handler(), cert)

	go func() {
		logger.Info("HTTP redirect server listening", zap.String("addr", httpRedirect.Addr))
		if err := httpRedirect.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("redirect server stopped", zap.Error(err))
		}
	}()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpRedirect.Shutdown(shutdownCtx)
		httpsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTPS server is starting with a self-signed certificate", zap.String("domain", domain))
	// Empty file names make the server use TLSConfig.Certificates.
	if err := httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
		httpRedirect.Close()
		return errors.Wrap(err, "TLS server stopped unexpectedly")
	}
	<-stopped
	return nil
}

// domainServers builds the HTTPS storefront and the :80 redirect for domain.
func domainServers(domain string, handler http.Handler, cert tls.Certificate) (*http.Server, *http.Server) {
	httpsServer := &http.Server{
		Addr:    ":443",
		Handler: handler,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	httpRedirect := &http.Server{
		Addr:              ":80",
		Handler:           redirectToHTTPS(domain),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return httpsServer, httpRedirect
}

// redirectToHTTPS keeps path and query and pins the host to domain.
func redirectToHTTPS(domain string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// selfSignedCertificate issues an in-memory P-256 certificate for domain, valid from
// an hour before now for certificateLifetime.
func selfSignedCertificate(domain string, now time.Time) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generate serial")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain, Organization: []string{"Cashfity"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certificateLifetime),
		DNSNames:     []string{domain},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "create certificate")
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "parse certificate")
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}
