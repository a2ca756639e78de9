package saml

import (
	"strings"
	"testing"
)

func TestGenerateKeyPairProducesUsablePEM(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	priv := string(EncodePrivateKeyPEM(kp))
	if !strings.Contains(priv, "RSA PRIVATE KEY") {
		t.Errorf("expected PKCS1 PEM header, got %s", priv)
	}
	pub, err := EncodePublicKeyPEM(kp)
	if err != nil {
		t.Fatalf("EncodePublicKeyPEM: %v", err)
	}
	if !strings.Contains(string(pub), "PUBLIC KEY") {
		t.Errorf("expected public key PEM header, got %s", pub)
	}
}

func TestSignPayloadRequiresKey(t *testing.T) {
	_, err := signPayload(&KeyPair{}, []byte("data"))
	if err == nil {
		t.Fatal("expected error signing without a private key")
	}
}

func TestSignPayloadProducesSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sig, err := signPayload(kp, []byte("payload"))
	if err != nil {
		t.Fatalf("signPayload: %v", err)
	}
	if len(sig) == 0 {
		t.Error("expected non-empty signature")
	}
}
