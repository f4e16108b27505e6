package crypto

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// hashConstructors maps the hash algorithm names the Miniserver advertises
// in H2 (message.LL.value.hashAlg) to a constructor for that hash.
var hashConstructors = map[string]func() hash.Hash{
	"SHA1":   sha1.New,
	"SHA256": sha256.New,
}

func lookupHash(hashAlg string) (func() hash.Hash, error) {
	newHash, ok := hashConstructors[strings.ToUpper(hashAlg)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedHashAlg, hashAlg)
	}
	return newHash, nil
}

// CalculateHash computes the user-authentication token for H3 (§4.2):
//
//	D = upper(hex(H(password + ":" + salt)))
//	token = hex(HMAC_H(hex_decode(hexKey), user + ":" + D))
//
// hashAlg is selected at runtime from whichever digest the controller
// advertised in H2 (e.g. "SHA1", "SHA256").
func CalculateHash(user, password, hashAlg, hexKey, salt string) (string, error) {
	newHash, err := lookupHash(hashAlg)
	if err != nil {
		return "", err
	}

	passwordDigest := newHash()
	passwordDigest.Write([]byte(password + ":" + salt))
	d := strings.ToUpper(hex.EncodeToString(passwordDigest.Sum(nil)))

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("crypto: decode hash key: %w", err)
	}

	mac := hmac.New(newHash, key)
	mac.Write([]byte(user + ":" + d))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
