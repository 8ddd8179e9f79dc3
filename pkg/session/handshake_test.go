package session

import (
	"testing"

	"github.com/latchvc/latchvc/pkg/identity"
)

func TestHandshakeCompletesAndDerivesUsableCiphers(t *testing.T) {
	server, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate server identity: %v", err)
	}
	client, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate client identity: %v", err)
	}

	initiator, err := NewInitiatorHandshake(client, server.KeyAgreementPublicKey[:])
	if err != nil {
		t.Fatalf("NewInitiatorHandshake: %v", err)
	}
	responder, err := NewResponderHandshake(server)
	if err != nil {
		t.Fatalf("NewResponderHandshake: %v", err)
	}

	hello1, err := initiator.CreateHello()
	if err != nil {
		t.Fatalf("CreateHello: %v", err)
	}

	hello2, err := responder.ProcessHello(hello1, client.SigningPublicKey)
	if err != nil {
		t.Fatalf("ProcessHello: %v", err)
	}
	if !responder.IsComplete() {
		t.Fatal("responder should be complete after ProcessHello")
	}

	if err := initiator.ProcessResponse(hello2, server.SigningPublicKey); err != nil {
		t.Fatalf("ProcessResponse: %v", err)
	}
	if !initiator.IsComplete() {
		t.Fatal("initiator should be complete after ProcessResponse")
	}

	plaintext := []byte("hello over the session")
	ct, err := initiator.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := responder.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("decrypted mismatch: %q != %q", pt, plaintext)
	}
}

func TestProcessHelloRejectsBadSignature(t *testing.T) {
	server, _ := identity.Generate()
	client, _ := identity.Generate()
	impostor, _ := identity.Generate()

	initiator, err := NewInitiatorHandshake(client, server.KeyAgreementPublicKey[:])
	if err != nil {
		t.Fatalf("NewInitiatorHandshake: %v", err)
	}
	responder, err := NewResponderHandshake(server)
	if err != nil {
		t.Fatalf("NewResponderHandshake: %v", err)
	}

	hello, err := initiator.CreateHello()
	if err != nil {
		t.Fatalf("CreateHello: %v", err)
	}

	if _, err := responder.ProcessHello(hello, impostor.SigningPublicKey); err == nil {
		t.Fatal("expected verification failure against the wrong signing key")
	}
}

func TestEncryptBeforeCompleteFails(t *testing.T) {
	server, _ := identity.Generate()
	client, _ := identity.Generate()
	initiator, err := NewInitiatorHandshake(client, server.KeyAgreementPublicKey[:])
	if err != nil {
		t.Fatalf("NewInitiatorHandshake: %v", err)
	}
	if _, err := initiator.Encrypt([]byte("too soon")); err == nil {
		t.Fatal("expected Encrypt to fail before handshake completes")
	}
}
