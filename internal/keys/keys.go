// Package keys loads and generates the RSA key pair used to sign and
// verify bearer tokens.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotRSA is returned when a PEM file does not hold an RSA key.
var ErrNotRSA = errors.New("key is not an RSA key")

// DefaultBits is the modulus size used by Generate when bits is zero.
const DefaultBits = 2048

// Pair is a loaded signing key pair.
type Pair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Load reads a PEM-encoded RSA private key and public key from disk. The
// public key path may be empty, in which case the public half of the
// private key is used.
func Load(privatePath, publicPath string) (*Pair, error) {
	privPEM, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", privatePath, err)
	}

	pub := &priv.PublicKey
	if publicPath != "" {
		pubPEM, err := os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		pub, err = jwt.ParseRSAPublicKeyFromPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("parse public key %s: %w", publicPath, err)
		}
		if pub.N.Cmp(priv.N) != 0 || pub.E != priv.E {
			return nil, fmt.Errorf("public key %s does not match private key %s", publicPath, privatePath)
		}
	}

	return &Pair{Private: priv, Public: pub}, nil
}

// LoadPublic reads only a PEM-encoded RSA public key, for processes that
// verify tokens but never issue them.
func LoadPublic(publicPath string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		if errors.Is(err, jwt.ErrNotRSAPublicKey) {
			return nil, ErrNotRSA
		}
		return nil, fmt.Errorf("parse public key %s: %w", publicPath, err)
	}
	return pub, nil
}

// Generate creates a new RSA key pair.
func Generate(bits int) (*Pair, error) {
	if bits == 0 {
		bits = DefaultBits
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &Pair{Private: priv, Public: &priv.PublicKey}, nil
}

// Write stores the pair as PKCS#1 private and PKIX public PEM files. The
// private key is written with owner-only permissions.
func (p *Pair) Write(privatePath, publicPath string) error {
	privPEM, pubPEM, err := p.Encode()
	if err != nil {
		return err
	}
	for _, path := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create key dir: %w", err)
		}
	}
	if err := os.WriteFile(privatePath, privPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// Encode returns the PEM encodings of the private and public keys.
func (p *Pair) Encode() (privPEM, pubPEM []byte, err error) {
	privPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(p.Private),
	})
	der, err := x509.MarshalPKIXPublicKey(p.Public)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal public key: %w", err)
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return privPEM, pubPEM, nil
}
