// Package saml implements the SAML 2.0 artifact-binding service
// provider (§4.11) and the batch authorization PDP (§4.12): signing an
// AuthnRequest, resolving the IdP's artifact over a SOAP backchannel,
// and answering SOAP AuthzDecisionQuery batches against the configured
// adaptor's AuthzAuthority.
package saml

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"github.com/contentbridge/adaptor/errkind"
)

// KeyPair is the RSA signing keypair a ServiceProvider signs
// AuthnRequests with. config.ParsePrivateKeyPEM reads the private half
// back in from an operator-supplied key file or one produced here.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// GenerateKeyPair returns a fresh RSA-2048 keypair suitable for signing
// AuthnRequests and for config.SensitiveValueCodec's RSA-OAEP config
// value encryption (the two uses share one key family so an operator
// only needs to manage a single keypair per deployment).
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "saml: generate rsa keypair", err)
	}
	return &KeyPair{PrivateKey: key, PublicKey: &key.PublicKey}, nil
}

// EncodePrivateKeyPEM renders kp's private key as a PKCS#1 PEM block,
// the format config.ParsePrivateKeyPEM expects back.
func EncodePrivateKeyPEM(kp *KeyPair) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	})
}

// EncodePublicKeyPEM renders kp's public key as a PKIX PEM block, for
// distribution to the IdP as this SP's signing certificate material.
func EncodePublicKeyPEM(kp *KeyPair) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "saml: marshal public key", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// signPayload signs the SHA-256 digest of payload with kp's private key,
// used to sign the SAMLRequest query parameter of a redirect-bound
// AuthnRequest per §6's HTTP-Redirect binding.
func signPayload(kp *KeyPair, payload []byte) ([]byte, error) {
	if kp == nil || kp.PrivateKey == nil {
		return nil, errkind.New(errkind.InvalidConfiguration, "saml: no signing key configured")
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, kp.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, "saml: sign payload", err)
	}
	return sig, nil
}
