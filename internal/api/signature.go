package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// SignatureHeader carries the vendor's webhook signature.
const SignatureHeader = "X-Callback-Signature"

// Verifier checks vendor webhook signatures: base64 of an HMAC-SHA1 over
// the exact callback URL followed by the form parameters sorted by key,
// keyed with the shared auth token. The same scheme the vendor uses to
// sign, recomputed deterministically on our side.
type Verifier struct {
	authToken []byte
}

func NewVerifier(authToken string) *Verifier {
	return &Verifier{authToken: []byte(authToken)}
}

func (v *Verifier) Sign(fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, v.authToken)
	mac.Write([]byte(fullURL))
	for _, k := range keys {
		for _, val := range form[k] {
			mac.Write([]byte(k))
			mac.Write([]byte(val))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) Verify(fullURL string, form url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := v.Sign(fullURL, form)
	return hmac.Equal([]byte(expected), []byte(signature))
}
