package certificates

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"net"
	"strings"
	"time"
)

// Generator issues per-host leaf certificates signed by the CA
type Generator struct {
	caManager *CAManager
	keySize   int
	validDays int
}

// NewGenerator creates a new certificate generator
func NewGenerator(caManager *CAManager) *Generator {
	return &Generator{
		caManager: caManager,
		keySize:   2048,
		validDays: 365,
	}
}

// GenerateCertificate creates a new certificate for the given domain(s)
func (g *Generator) GenerateCertificate(domains []string) (*GeneratedCertificate, error) {
	if !g.caManager.IsCALoaded() {
		return nil, fmt.Errorf("CA certificate not loaded")
	}

	if len(domains) == 0 {
		return nil, fmt.Errorf("at least one domain must be specified")
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, g.keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Streaming Respirator"},
			CommonName:   domains[0],
		},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().AddDate(0, 0, g.validDays),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:        false,
	}

	for _, domain := range domains {
		if ip := net.ParseIP(domain); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, domain)
		}
	}

	certDER, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		g.caManager.GetCACertificate(),
		&privateKey.PublicKey,
		g.caManager.GetCAPrivateKey(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	return &GeneratedCertificate{
		Certificate: cert,
		PrivateKey:  privateKey,
		Domains:     domains,
		GeneratedAt: time.Now(),
	}, nil
}

// GenerateCertificateForHost creates a certificate for a single host
func (g *Generator) GenerateCertificateForHost(host string) (*GeneratedCertificate, error) {
	return g.GenerateCertificate([]string{cleanHost(host)})
}

// SetValidityPeriod sets the validity period for generated certificates
func (g *Generator) SetValidityPeriod(days int) {
	if days > 0 {
		g.validDays = days
	}
}

// GeneratedCertificate holds a generated certificate and its private key
type GeneratedCertificate struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	Domains     []string
	GeneratedAt time.Time
}

// ToPEM converts the certificate and key to PEM format
func (gc *GeneratedCertificate) ToPEM() (certPEM, keyPEM []byte) {
	certPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: gc.Certificate.Raw,
	})

	keyBytes := x509.MarshalPKCS1PrivateKey(gc.PrivateKey)
	keyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})

	return certPEM, keyPEM
}

// TLSCertificate converts the pair into a certificate usable by crypto/tls
func (gc *GeneratedCertificate) TLSCertificate() (tls.Certificate, error) {
	certPEM, keyPEM := gc.ToPEM()

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create TLS certificate: %w", err)
	}

	return tlsCert, nil
}

// IsValidForHost checks if the certificate is valid for the given host
func (gc *GeneratedCertificate) IsValidForHost(host string) bool {
	host = cleanHost(host)

	for _, dnsName := range gc.Certificate.DNSNames {
		if dnsName == host {
			return true
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, certIP := range gc.Certificate.IPAddresses {
			if ip.Equal(certIP) {
				return true
			}
		}
	}

	return false
}

// IsExpired checks if the certificate has expired
func (gc *GeneratedCertificate) IsExpired() bool {
	return time.Now().After(gc.Certificate.NotAfter)
}

// cleanHost removes the port from a host:port pair
func cleanHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
