// Package pki bootstraps the service's certificate authority: a self-signed
// root, the HTTPS leaf identity issued from it, and the separate keypair that
// signs bearer tokens. Each stage is idempotent and skipped when its output
// files already exist, unless force-overwrite is set.
package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const rsaKeyBits = 4096

// File names under the PKI directory. The HTTPS listener consumes LeafCert
// and LeafKey; clients that trust the deployment import RootCert.
const (
	RootKeyFile  = "root_ca.key"
	RootCertFile = "root_ca.crt"
	LeafKeyFile  = "https.key"
	CSRFile      = "https.csr"
	LeafCertFile = "https.crt"
	JWTKeyFile   = "jwt.key"
	JWTPubFile   = "jwt.pub"
)

// Bootstrap drives the startup state machine.
type Bootstrap struct {
	log       *slog.Logger
	dir       string
	hostnames []string
	force     bool
}

func New(log *slog.Logger, dir string, hostnames []string, force bool) *Bootstrap {
	return &Bootstrap{log: log, dir: dir, hostnames: hostnames, force: force}
}

// Run executes every stage in order. Any failure is fatal to the caller: the
// service must not serve TLS with inconsistent material.
func (b *Bootstrap) Run() error {
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("create pki directory: %w", err)
	}

	rootKey, rootCert, err := b.ensureRoot()
	if err != nil {
		return err
	}
	leafKey, err := b.ensureLeafKey()
	if err != nil {
		return err
	}
	csr, rebuilt, err := b.ensureCSR(leafKey)
	if err != nil {
		return err
	}
	if err := b.ensureLeafCert(rootKey, rootCert, csr, rebuilt); err != nil {
		return err
	}
	if err := b.ensureJWTKeys(); err != nil {
		return err
	}
	return nil
}

// LeafCertPath and LeafKeyPath locate the HTTPS identity for the listener.
func (b *Bootstrap) LeafCertPath() string { return filepath.Join(b.dir, LeafCertFile) }
func (b *Bootstrap) LeafKeyPath() string  { return filepath.Join(b.dir, LeafKeyFile) }

// ensureRoot generates or loads the root CA keypair and self-signed
// certificate.
func (b *Bootstrap) ensureRoot() (*rsa.PrivateKey, *x509.Certificate, error) {
	keyPath := filepath.Join(b.dir, RootKeyFile)
	certPath := filepath.Join(b.dir, RootCertFile)

	if !b.force && exists(keyPath) && exists(certPath) {
		key, err := loadRSAKey(keyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load root key: %w", err)
		}
		cert, err := loadCert(certPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load root certificate: %w", err)
		}
		return key, cert, nil
	}
	if !b.force && (exists(keyPath) != exists(certPath)) {
		return nil, nil, fmt.Errorf("inconsistent root CA material in %s: key and certificate must both exist", b.dir)
	}

	b.log.Info("pki_generating_root_ca", "bits", rsaKeyBits)
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generate root key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}
	subject := pkix.Name{
		Organization: []string{"NepoJang"},
		CommonName:   "(Self Trusted) NepoJang Root CA",
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		Issuer:                subject,
		NotBefore:             time.Now().UTC(),
		// Effectively unbounded; the root is never rotated automatically.
		NotAfter:              time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA512WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("self-sign root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parse root certificate: %w", err)
	}

	if err := saveRSAKey(keyPath, key); err != nil {
		return nil, nil, err
	}
	if err := saveCert(certPath, der); err != nil {
		return nil, nil, err
	}
	return key, cert, nil
}

// ensureLeafKey generates or loads the HTTPS keypair, distinct from both the
// root and the JWT signing key.
func (b *Bootstrap) ensureLeafKey() (*rsa.PrivateKey, error) {
	keyPath := filepath.Join(b.dir, LeafKeyFile)
	if !b.force && exists(keyPath) {
		key, err := loadRSAKey(keyPath)
		if err != nil {
			return nil, fmt.Errorf("load https key: %w", err)
		}
		return key, nil
	}

	b.log.Info("pki_generating_https_keypair", "bits", rsaKeyBits)
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate https key: %w", err)
	}
	if err := saveRSAKey(keyPath, key); err != nil {
		return nil, err
	}
	return key, nil
}

// ensureCSR builds the signing request carrying a SAN for every configured
// hostname. The CSR is reused only while the hostname set is unchanged and
// it still belongs to the leaf key, so repeated startups leave identical
// files on disk; any difference rebuilds it. The key check matters when
// https.key was lost and regenerated: reusing the stale CSR would leave a
// certificate on disk that no longer matches the private key.
func (b *Bootstrap) ensureCSR(key *rsa.PrivateKey) (*x509.CertificateRequest, bool, error) {
	csrPath := filepath.Join(b.dir, CSRFile)

	if !b.force && exists(csrPath) {
		existing, err := loadCSR(csrPath)
		if err == nil && sameHostnames(existing.DNSNames, b.hostnames) && csrMatchesKey(existing, key) {
			return existing, false, nil
		}
	}

	b.log.Info("pki_building_csr", "hostnames", b.hostnames)
	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Organization: []string{"NepoJang"},
			CommonName:   "NepoJang HTTP API Certificate",
		},
		DNSNames:           b.hostnames,
		SignatureAlgorithm: x509.SHA512WithRSA,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, false, fmt.Errorf("build csr: %w", err)
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, false, fmt.Errorf("parse csr: %w", err)
	}
	if err := savePEM(csrPath, "CERTIFICATE REQUEST", der); err != nil {
		return nil, false, err
	}
	return csr, true, nil
}

// ensureLeafCert signs the CSR's public key into a 1-year serving
// certificate, copying the CSR's SANs. Reissued when the CSR was rebuilt or
// the certificate file is missing.
func (b *Bootstrap) ensureLeafCert(rootKey *rsa.PrivateKey, rootCert *x509.Certificate, csr *x509.CertificateRequest, csrRebuilt bool) error {
	certPath := filepath.Join(b.dir, LeafCertFile)
	if !b.force && !csrRebuilt && exists(certPath) {
		return nil
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              csr.DNSNames,
		IPAddresses:           csr.IPAddresses,
		EmailAddresses:        csr.EmailAddresses,
		URIs:                  csr.URIs,
		SignatureAlgorithm:    x509.SHA512WithRSA,
	}

	b.log.Info("pki_issuing_leaf_certificate", "hostnames", csr.DNSNames, "not_after", template.NotAfter)
	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, csr.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("issue leaf certificate: %w", err)
	}
	return saveCert(certPath, der)
}

// ensureJWTKeys generates the bearer-signing keypair. It is a third keypair,
// unrelated to the TLS identities.
func (b *Bootstrap) ensureJWTKeys() error {
	keyPath := filepath.Join(b.dir, JWTKeyFile)
	pubPath := filepath.Join(b.dir, JWTPubFile)
	if !b.force && exists(keyPath) && exists(pubPath) {
		return nil
	}

	b.log.Info("pki_generating_jwt_keypair", "bits", rsaKeyBits)
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return fmt.Errorf("generate jwt key: %w", err)
	}
	if err := saveRSAKey(keyPath, key); err != nil {
		return err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal jwt public key: %w", err)
	}
	return savePEM(pubPath, "PUBLIC KEY", pubDER)
}

// LoadJWTKey reads the bearer-signing private key generated by Run.
func LoadJWTKey(dir string) (*rsa.PrivateKey, error) {
	return loadRSAKey(filepath.Join(dir, JWTKeyFile))
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return serial, nil
}

func sameHostnames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func csrMatchesKey(csr *x509.CertificateRequest, key *rsa.PrivateKey) bool {
	pub, ok := csr.PublicKey.(*rsa.PublicKey)
	return ok && pub.Equal(&key.PublicKey)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func savePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

func saveCert(path string, der []byte) error {
	return savePEM(path, "CERTIFICATE", der)
}

func saveRSAKey(path string, key *rsa.PrivateKey) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}
	return savePEM(path, "PRIVATE KEY", der)
}

func loadRSAKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", filepath.Base(path))
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not contain an RSA key", filepath.Base(path))
	}
	return key, nil
}

func loadCert(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", filepath.Base(path))
	}
	return x509.ParseCertificate(block.Bytes)
}

func loadCSR(path string) (*x509.CertificateRequest, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", filepath.Base(path))
	}
	return x509.ParseCertificateRequest(block.Bytes)
}
