package webhook

import "testing"

func TestVerify(t *testing.T) {
	payload := []byte(`{"eventType":"attachment.created"}`)
	secret := "topsecret"
	sig := Sign(payload, secret)

	if !Verify(payload, sig, secret) {
		t.Fatal("valid signature rejected")
	}
	if Verify([]byte(`{"eventType":"attachment.deleted"}`), sig, secret) {
		t.Fatal("tampered payload accepted")
	}
	if Verify(payload, sig, "othersecret") {
		t.Fatal("wrong secret accepted")
	}
	if Verify(payload, "not-hex", secret) {
		t.Fatal("malformed signature accepted")
	}
	if Verify(payload, "", secret) {
		t.Fatal("empty signature accepted")
	}
}

func TestSign_Deterministic(t *testing.T) {
	payload := []byte("same body")
	if Sign(payload, "s") != Sign(payload, "s") {
		t.Fatal("signature not deterministic")
	}
	if Sign(payload, "s") == Sign(payload, "t") {
		t.Fatal("different secrets produced the same signature")
	}
}
