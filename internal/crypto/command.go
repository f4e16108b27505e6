package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// zeroPad pads message with NUL bytes up to the next multiple of blockSize.
// This is an interoperability quirk with the Miniserver (§9) — it MUST NOT be
// replaced with PKCS#7, even though that would be the more standard choice.
func zeroPad(message []byte, blockSize int) []byte {
	remainder := len(message) % blockSize
	if remainder == 0 {
		return message
	}
	padding := make([]byte, blockSize-remainder)
	return append(append([]byte(nil), message...), padding...)
}

// EncryptCommand AES-256-CBC encrypts plaintext under the hex-decoded key and
// IV, zero-pads to a 16-byte multiple, Base64-encodes the ciphertext, and
// then percent-encodes every reserved byte (safe="") so the result can be
// embedded in a jdev/sys/enc/<...> URL path segment (§4.2).
func EncryptCommand(aesKeyHex, aesIVHex, plaintext string) (string, error) {
	key, err := hex.DecodeString(aesKeyHex)
	if err != nil {
		return "", fmt.Errorf("crypto: decode aes key: %w", err)
	}
	iv, err := hex.DecodeString(aesIVHex)
	if err != nil {
		return "", fmt.Errorf("crypto: decode aes iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: new aes cipher: %w", err)
	}

	padded := zeroPad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	b64 := base64.StdEncoding.EncodeToString(ciphertext)
	return urlEncodeAllReserved(b64), nil
}

// urlEncodeAllReserved percent-encodes every byte that isn't an ASCII letter
// or digit, including "-", "_", "." and "~". For Base64 input (letters,
// digits, "+", "/", "=") this gives the same result as Python's
// urllib.parse.quote(..., safe='') (§4.2).
func urlEncodeAllReserved(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') {
			out = append(out, c)
			continue
		}
		out = append(out, '%')
		out = append(out, hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}

var hexDigits = "0123456789ABCDEF"
