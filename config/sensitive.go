package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/contentbridge/adaptor/errkind"
)

// Prefixes tagging the three SensitiveValueCodec variants a config value
// can carry.
const (
	PrefixPlain      = "plain:"
	PrefixObfuscated = "obfuscated:"
	PrefixEncrypted  = "encrypted:"
)

const (
	obfuscationSalt       = "contentbridge-adaptor-config-obfuscation"
	obfuscationIterations = 10000
	obfuscationKeyLen     = 32
)

// SensitiveValueCodec decodes and encodes config values that may be
// plaintext, locally obfuscated (protects against casual disclosure of a
// config file, not a determined attacker), or encrypted against an RSA
// public key (for values an operator wants protected even from whoever
// holds the config file, decryptable only by whoever holds the matching
// private key).
type SensitiveValueCodec struct {
	passphrase string
	privateKey *rsa.PrivateKey
}

// NewSensitiveValueCodec returns a codec that obfuscates using passphrase
// and, if privateKey is non-nil, can decrypt RSA-encrypted values.
func NewSensitiveValueCodec(passphrase string, privateKey *rsa.PrivateKey) *SensitiveValueCodec {
	return &SensitiveValueCodec{passphrase: passphrase, privateKey: privateKey}
}

// Decode returns the plaintext for a prefixed raw config value. Values
// without a recognized prefix are treated as PrefixPlain.
func (c *SensitiveValueCodec) Decode(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, PrefixPlain):
		return strings.TrimPrefix(raw, PrefixPlain), nil
	case strings.HasPrefix(raw, PrefixObfuscated):
		return c.decodeObfuscated(strings.TrimPrefix(raw, PrefixObfuscated))
	case strings.HasPrefix(raw, PrefixEncrypted):
		return c.decodeEncrypted(strings.TrimPrefix(raw, PrefixEncrypted))
	default:
		return raw, nil
	}
}

// EncodeObfuscated returns a PrefixObfuscated-tagged value for plaintext.
func (c *SensitiveValueCodec) EncodeObfuscated(plaintext string) (string, error) {
	key := pbkdf2.Key([]byte(c.passphrase), []byte(obfuscationSalt), obfuscationIterations, obfuscationKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: build obfuscation cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: build obfuscation gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: generate nonce", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return PrefixObfuscated + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *SensitiveValueCodec) decodeObfuscated(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: decode obfuscated value", err)
	}
	key := pbkdf2.Key([]byte(c.passphrase), []byte(obfuscationSalt), obfuscationIterations, obfuscationKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: build obfuscation cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: build obfuscation gcm", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errkind.New(errkind.InvalidConfiguration, "config: obfuscated value too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: decrypt obfuscated value", err)
	}
	return string(plaintext), nil
}

func (c *SensitiveValueCodec) decodeEncrypted(encoded string) (string, error) {
	if c.privateKey == nil {
		return "", errkind.New(errkind.InvalidConfiguration, "config: no private key configured to decrypt encrypted value")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: decode encrypted value", err)
	}
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, c.privateKey, ciphertext, nil)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: rsa-decrypt value", err)
	}
	return string(plaintext), nil
}

// EncodeEncrypted returns a PrefixEncrypted-tagged value encrypted against
// pub.
func EncodeEncrypted(pub *rsa.PublicKey, plaintext string) (string, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", errkind.Wrap(errkind.InvalidConfiguration, "config: rsa-encrypt value", err)
	}
	return PrefixEncrypted + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key from PEM
// bytes, as produced by saml.GenerateKeyPair or an operator-supplied key
// file.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errkind.New(errkind.InvalidConfiguration, "config: no PEM block found in private key file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidConfiguration, "config: parse private key", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errkind.New(errkind.InvalidConfiguration, "config: private key is not RSA")
	}
	return rsaKey, nil
}
