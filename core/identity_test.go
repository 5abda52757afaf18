package core

import "testing"

func TestCreateKeyIdentity_IsVerifiedImmediately(t *testing.T) {
	id, err := CreateKeyIdentity()
	if err != nil {
		t.Fatalf("CreateKeyIdentity: %v", err)
	}
	if id.VerificationStatus != StatusVerified {
		t.Fatalf("expected StatusVerified, got %s", id.VerificationStatus)
	}
	if err := ValidateDIDFormat(id.DID); err != nil {
		t.Fatalf("generated DID %q failed format validation: %v", id.DID, err)
	}
}

func TestCreateEthrIdentity_IsVerifiedImmediately(t *testing.T) {
	id, err := CreateEthrIdentity()
	if err != nil {
		t.Fatalf("CreateEthrIdentity: %v", err)
	}
	if id.VerificationStatus != StatusVerified {
		t.Fatalf("expected StatusVerified, got %s", id.VerificationStatus)
	}
	if err := ValidateDIDFormat(id.DID); err != nil {
		t.Fatalf("generated DID %q failed format validation: %v", id.DID, err)
	}
}

func TestIdentitySignVerify_KeyMethod(t *testing.T) {
	id, err := CreateKeyIdentity()
	if err != nil {
		t.Fatalf("CreateKeyIdentity: %v", err)
	}
	digest := []byte("hello world")
	sig, err := id.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !id.Verify(digest, sig) {
		t.Fatalf("expected signature to verify")
	}
	if id.Verify([]byte("hello world!"), sig) {
		t.Fatalf("expected tampered digest to fail verification")
	}
}

func TestIdentitySignVerify_EthrMethod(t *testing.T) {
	id, err := CreateEthrIdentity()
	if err != nil {
		t.Fatalf("CreateEthrIdentity: %v", err)
	}
	digest := []byte("hello world")
	sig, err := id.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !id.Verify(digest, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestIdentityFromPublicKey_CannotSign(t *testing.T) {
	owner, err := CreateKeyIdentity()
	if err != nil {
		t.Fatalf("CreateKeyIdentity: %v", err)
	}
	remote, err := IdentityFromPublicKey(MethodKey, owner.PublicKeyBytes)
	if err != nil {
		t.Fatalf("IdentityFromPublicKey: %v", err)
	}
	if remote.DID != owner.DID {
		t.Fatalf("expected reconstructed DID %q to equal %q", remote.DID, owner.DID)
	}
	if _, err := remote.Sign([]byte("x")); err != ErrNoPrivateKey {
		t.Fatalf("expected ErrNoPrivateKey, got %v", err)
	}
}

func TestParseDID(t *testing.T) {
	method, value, err := ParseDID("did:key:abcd1234abcd1234")
	if err != nil {
		t.Fatalf("ParseDID: %v", err)
	}
	if method != "key" || value != "abcd1234abcd1234" {
		t.Fatalf("unexpected parse result: method=%q value=%q", method, value)
	}
	if _, _, err := ParseDID("not-a-did"); err == nil {
		t.Fatalf("expected error for malformed DID")
	}
}

func TestValidateDIDFormat_RejectsBadEthrAddress(t *testing.T) {
	if err := ValidateDIDFormat("did:ethr:0xnothex"); err == nil {
		t.Fatalf("expected error for non-hex ethr address")
	}
	if err := ValidateDIDFormat("did:ethr:deadbeef"); err == nil {
		t.Fatalf("expected error for missing 0x prefix")
	}
}
