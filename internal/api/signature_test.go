package api

import (
	"net/url"
	"testing"
)

func TestVerifier(t *testing.T) {
	v := NewVerifier("secret_token")
	fullURL := "https://alerts.example.com/webhooks/voice/status?alert_id=a1"
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")

	sig := v.Sign(fullURL, form)
	if sig == "" {
		t.Fatal("empty signature")
	}
	if !v.Verify(fullURL, form, sig) {
		t.Error("valid signature rejected")
	}

	if v.Verify(fullURL, form, "") {
		t.Error("empty signature accepted")
	}
	if v.Verify("https://alerts.example.com/webhooks/voice/status", form, sig) {
		t.Error("signature accepted for a different URL")
	}

	tampered := url.Values{}
	tampered.Set("CallSid", "CA123")
	tampered.Set("CallStatus", "failed")
	if v.Verify(fullURL, tampered, sig) {
		t.Error("signature accepted for tampered parameters")
	}

	other := NewVerifier("other_token")
	if other.Verify(fullURL, form, sig) {
		t.Error("signature accepted under a different token")
	}
}

func TestVerifierSignIsOrderIndependent(t *testing.T) {
	v := NewVerifier("secret_token")
	fullURL := "https://alerts.example.com/webhooks/voice/status"

	a := url.Values{}
	a.Set("B", "2")
	a.Set("A", "1")
	b := url.Values{}
	b.Set("A", "1")
	b.Set("B", "2")

	if v.Sign(fullURL, a) != v.Sign(fullURL, b) {
		t.Error("signature depends on parameter insertion order")
	}
}
