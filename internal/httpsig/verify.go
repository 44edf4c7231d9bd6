package httpsig

import (
	"crypto"
	"net/http"
	"strings"

	"github.com/go-fed/httpsig"
)

// Verify checks the Signature header on an inbound request. getKey is
// called with the keyId from the header to obtain the signer's public
// key; it typically fetches the remote actor.
func Verify(r *http.Request, getKey func(keyID string) (crypto.PublicKey, error)) error {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return err
	}
	pubKey, err := getKey(verifier.KeyId())
	if err != nil {
		return err
	}
	return verifier.Verify(pubKey, httpsig.RSA_SHA256)
}

// TrimKeyID removes the #main-key style fragment from a key id,
// leaving the actor id.
func TrimKeyID(id string) string {
	if i := strings.Index(id, "#"); i != -1 {
		return id[:i]
	}
	return id
}
