package crypto

import "testing"

func TestDeriveSessionKeysSymmetric(t *testing.T) {
	initiator, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	recipient, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	secretAtInitiator, err := ECDH(initiator, CompressPubkey(&recipient.PublicKey))
	if err != nil {
		t.Fatalf("ECDH at initiator failed: %v", err)
	}
	secretAtRecipient, err := ECDH(recipient, CompressPubkey(&initiator.PublicKey))
	if err != nil {
		t.Fatalf("ECDH at recipient failed: %v", err)
	}

	idNonce := Keccak256([]byte("id-nonce"))
	initiatorID := Keccak256(CompressPubkey(&initiator.PublicKey))
	recipientID := Keccak256(CompressPubkey(&recipient.PublicKey))

	keysAtInitiator := DeriveSessionKeys(secretAtInitiator, initiatorID, recipientID, idNonce)
	keysAtRecipient := DeriveSessionKeys(secretAtRecipient, initiatorID, recipientID, idNonce)

	if keysAtInitiator != keysAtRecipient {
		t.Fatal("both sides of a handshake must derive identical SessionKeys")
	}

	if keysAtInitiator.EncryptKey(true) != keysAtRecipient.DecryptKey(false) {
		t.Fatal("initiator's encrypt key must equal recipient's decrypt key")
	}
	if keysAtRecipient.EncryptKey(false) != keysAtInitiator.DecryptKey(true) {
		t.Fatal("recipient's encrypt key must equal initiator's decrypt key")
	}
}

func TestDeriveSessionKeysDependsOnRoleOrder(t *testing.T) {
	secret := Keccak256([]byte("shared secret"))
	idNonce := Keccak256([]byte("nonce"))
	idA := Keccak256([]byte("node A"))
	idB := Keccak256([]byte("node B"))

	forward := DeriveSessionKeys(secret, idA, idB, idNonce)
	swapped := DeriveSessionKeys(secret, idB, idA, idNonce)

	if forward == swapped {
		t.Fatal("swapping initiator/recipient ids must change the derived keys")
	}
}
