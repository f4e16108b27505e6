package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// SessionKey is a freshly generated 32-byte AES key and 16-byte IV, both
// carried on the wire as lowercase hex (§3 "Session material").
type SessionKey struct {
	AESKeyHex string
	AESIVHex  string
}

// rewriteCertificateArmor turns the PEM certificate armor the Miniserver's
// REST endpoint returns into SubjectPublicKeyInfo armor, which is what it
// actually contains (§4.2).
func rewriteCertificateArmor(certPEM string) string {
	s := strings.ReplaceAll(certPEM, "-----BEGIN CERTIFICATE-----", "-----BEGIN PUBLIC KEY-----")
	s = strings.ReplaceAll(s, "-----END CERTIFICATE-----", "-----END PUBLIC KEY-----")
	return s
}

// ParsePublicKey decodes the Miniserver's returned PEM (after armor rewrite)
// into an RSA public key.
func ParsePublicKey(certPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(rewriteCertificateArmor(certPEM)))
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is not RSA")
	}
	return rsaPub, nil
}

// SealSession RSA-encrypts (PKCS#1 v1.5) the UTF-8 bytes of
// "<aes_key_hex>:<aes_iv_hex>" under pub, then Base64-encodes the result —
// the "sealed session" delivered at handshake step H1 (§3, §4.2).
func SealSession(key SessionKey, pub *rsa.PublicKey) (string, error) {
	plaintext := fmt.Sprintf("%s:%s", key.AESKeyHex, key.AESIVHex)

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("crypto: seal session: %w", err)
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
