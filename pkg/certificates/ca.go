package certificates

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"
)

// CAManager holds the root certificate used to sign per-host leaf certificates
type CAManager struct {
	caCert     *x509.Certificate
	caKey      *rsa.PrivateKey
	keySize    int
	validYears int
}

// NewCAManager creates a new CA manager instance
func NewCAManager() *CAManager {
	return &CAManager{
		keySize:    2048,
		validYears: 10,
	}
}

// LoadCA loads an existing CA certificate and key from PEM files
func (ca *CAManager) LoadCA(certPath, keyPath string) error {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	certBlock, _ := pem.Decode(certData)
	if certBlock == nil {
		return fmt.Errorf("failed to decode CA certificate PEM")
	}

	ca.caCert, err = x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("failed to read CA key file: %w", err)
	}

	keyBlock, _ := pem.Decode(keyData)
	if keyBlock == nil {
		return fmt.Errorf("failed to decode CA key PEM")
	}

	ca.caKey, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse CA private key: %w", err)
	}

	return nil
}

// GenerateCA creates a new self-signed root certificate in memory
func (ca *CAManager) GenerateCA() error {
	privateKey, err := rsa.GenerateKey(rand.Reader, ca.keySize)
	if err != nil {
		return fmt.Errorf("failed to generate CA private key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return fmt.Errorf("failed to generate CA serial: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Streaming Respirator"},
			CommonName:   "Streaming Respirator CA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(ca.validYears, 0, 0),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}

	ca.caCert, err = x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse generated CA certificate: %w", err)
	}

	ca.caKey = privateKey

	return nil
}

// CertificatePEM returns the root certificate in PEM form for client trust install
func (ca *CAManager) CertificatePEM() ([]byte, error) {
	if ca.caCert == nil {
		return nil, fmt.Errorf("no CA certificate loaded")
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: ca.caCert.Raw,
	}), nil
}

// GetCACertificate returns the CA certificate
func (ca *CAManager) GetCACertificate() *x509.Certificate {
	return ca.caCert
}

// GetCAPrivateKey returns the CA private key
func (ca *CAManager) GetCAPrivateKey() *rsa.PrivateKey {
	return ca.caKey
}

// IsCALoaded returns true if CA certificate and key are loaded
func (ca *CAManager) IsCALoaded() bool {
	return ca.caCert != nil && ca.caKey != nil
}

// ValidateCA checks if the loaded CA certificate is usable for signing
func (ca *CAManager) ValidateCA() error {
	if !ca.IsCALoaded() {
		return fmt.Errorf("no CA certificate loaded")
	}

	now := time.Now()
	if now.Before(ca.caCert.NotBefore) {
		return fmt.Errorf("CA certificate is not yet valid (valid from: %v)", ca.caCert.NotBefore)
	}

	if now.After(ca.caCert.NotAfter) {
		return fmt.Errorf("CA certificate has expired (expired: %v)", ca.caCert.NotAfter)
	}

	if !ca.caCert.IsCA {
		return fmt.Errorf("certificate is not a CA certificate")
	}

	if ca.caCert.KeyUsage&x509.KeyUsageCertSign == 0 {
		return fmt.Errorf("CA certificate does not have certificate signing capability")
	}

	return nil
}

// randomSerial produces a random 128-bit certificate serial number
func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	return rand.Int(rand.Reader, limit)
}
