package pki

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nepojang/internal/logging"
)

var allFiles = []string{
	RootKeyFile, RootCertFile,
	LeafKeyFile, CSRFile, LeafCertFile,
	JWTKeyFile, JWTPubFile,
}

func readAll(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte, len(allFiles))
	for _, name := range allFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		out[name] = data
	}
	return out
}

func parseCert(t *testing.T, data []byte) *x509.Certificate {
	t.Helper()
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	return cert
}

func TestRun_CreatesAllMaterial(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 4096-bit key generation in short mode")
	}
	dir := t.TempDir()
	b := New(logging.New("error"), dir, []string{"auth.example.test", "api.example.test"}, false)
	require.NoError(t, b.Run())

	files := readAll(t, dir)

	root := parseCert(t, files[RootCertFile])
	assert.True(t, root.IsCA)
	assert.True(t, root.MaxPathLenZero)
	assert.Equal(t, x509.KeyUsageCertSign, root.KeyUsage)
	assert.Equal(t, x509.SHA512WithRSA, root.SignatureAlgorithm)
	assert.Equal(t, 9999, root.NotAfter.Year())

	leaf := parseCert(t, files[LeafCertFile])
	assert.False(t, leaf.IsCA)
	assert.ElementsMatch(t, []string{"auth.example.test", "api.example.test"}, leaf.DNSNames)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, leaf.KeyUsage)
	assert.Contains(t, leaf.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	assert.WithinDuration(t, time.Now().AddDate(1, 0, 0), leaf.NotAfter, 24*time.Hour)
	assert.NoError(t, leaf.CheckSignatureFrom(root))

	key, err := LoadJWTKey(dir)
	require.NoError(t, err)
	assert.Equal(t, rsaKeyBits, key.N.BitLen())
}

func TestRun_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 4096-bit key generation in short mode")
	}
	dir := t.TempDir()
	hostnames := []string{"auth.example.test"}

	require.NoError(t, New(logging.New("error"), dir, hostnames, false).Run())
	before := readAll(t, dir)

	require.NoError(t, New(logging.New("error"), dir, hostnames, false).Run())
	after := readAll(t, dir)

	for _, name := range allFiles {
		assert.Equal(t, before[name], after[name], "%s changed across runs", name)
	}
}

func TestRun_HostnameChangeReissuesLeaf(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 4096-bit key generation in short mode")
	}
	dir := t.TempDir()

	require.NoError(t, New(logging.New("error"), dir, []string{"old.example.test"}, false).Run())
	before := readAll(t, dir)

	require.NoError(t, New(logging.New("error"), dir, []string{"new.example.test"}, false).Run())
	after := readAll(t, dir)

	// Long-lived material survives.
	assert.Equal(t, before[RootKeyFile], after[RootKeyFile])
	assert.Equal(t, before[RootCertFile], after[RootCertFile])
	assert.Equal(t, before[LeafKeyFile], after[LeafKeyFile])
	assert.Equal(t, before[JWTKeyFile], after[JWTKeyFile])

	// The request and certificate follow the new name set.
	assert.NotEqual(t, before[CSRFile], after[CSRFile])
	assert.NotEqual(t, before[LeafCertFile], after[LeafCertFile])
	leaf := parseCert(t, after[LeafCertFile])
	assert.Equal(t, []string{"new.example.test"}, leaf.DNSNames)
}

func TestRun_LostLeafKeyReissuesCSRAndCert(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 4096-bit key generation in short mode")
	}
	dir := t.TempDir()
	hostnames := []string{"auth.example.test"}

	require.NoError(t, New(logging.New("error"), dir, hostnames, false).Run())
	before := readAll(t, dir)

	// Lose only the serving key; hostnames are unchanged, so a naive reuse
	// of the CSR would pair the old certificate with the new key.
	require.NoError(t, os.Remove(filepath.Join(dir, LeafKeyFile)))
	require.NoError(t, New(logging.New("error"), dir, hostnames, false).Run())
	after := readAll(t, dir)

	assert.NotEqual(t, before[LeafKeyFile], after[LeafKeyFile])
	assert.NotEqual(t, before[CSRFile], after[CSRFile])
	assert.NotEqual(t, before[LeafCertFile], after[LeafCertFile])

	// Certificate and key on disk must form a working TLS identity.
	_, err := tls.X509KeyPair(after[LeafCertFile], after[LeafKeyFile])
	assert.NoError(t, err)
}

func TestRun_RejectsInconsistentRootMaterial(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, RootKeyFile), []byte("stray"), 0o600))

	err := New(logging.New("error"), dir, []string{"auth.example.test"}, false).Run()
	assert.Error(t, err)
}
