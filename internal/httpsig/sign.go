// Package httpsig implements the HTTP Signature scheme as defined in draft-cavage-http-signatures-10.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// RequestTarget is the pseudo-header used to sign the request target.
	RequestTarget = "(request-target)"
)

// Headers carries the signature material for one request: the value of
// the Signature header, the Date header it covers, and, for requests
// with a body, the Digest header.
type Headers struct {
	Signature string
	Date      string
	Digest    string
}

// Sign signs the request using the given keyID and privateKey, setting
// the Date, Digest and Signature headers on the request. For GET
// requests the host, date and accept headers are covered; for POST the
// date and digest headers.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	hdrs, err := sign(req, keyID, privateKey, body)
	if err != nil {
		return err
	}
	req.Header.Set("Date", hdrs.Date)
	if hdrs.Digest != "" {
		req.Header.Set("Digest", hdrs.Digest)
	}
	req.Header.Set("Signature", hdrs.Signature)
	return nil
}

func sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) (*Headers, error) {
	priv, ok := privateKey.(*rsa.PrivateKey)
	if !ok || priv == nil {
		return nil, fmt.Errorf("httpsig: no usable private key for %s", keyID)
	}

	date := time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT") // Date must be in GMT, not UTC 🤯
	headersToSign := []string{
		RequestTarget,
	}
	var digest string
	switch req.Method {
	case "GET":
		headersToSign = append(headersToSign, "host", "date", "accept")
	case "POST":
		headersToSign = append(headersToSign, "date", "digest")
		digest = bodyDigest(body)
	}

	var sb bytes.Buffer
	for _, header := range headersToSign {
		switch header {
		case RequestTarget:
			sb.WriteString("(request-target): ")
			sb.WriteString(strings.ToLower(req.Method))
			sb.WriteString(" ")
			sb.WriteString(req.URL.Path)
			if req.URL.RawQuery != "" {
				sb.WriteString("?")
				sb.WriteString(req.URL.RawQuery)
			}
		case "host":
			sb.WriteString("host: ")
			sb.WriteString(req.Host)
		case "date":
			sb.WriteString("date: ")
			sb.WriteString(date)
		case "accept":
			sb.WriteString("accept: ")
			sb.WriteString(req.Header.Get("Accept"))
		case "digest":
			sb.WriteString("digest: ")
			sb.WriteString(digest)
		default:
			return nil, fmt.Errorf("unknown header to sign: %s", header)
		}
		sb.WriteString("\n")
	}
	hash := sha256.New()
	hash.Write(bytes.TrimRight(sb.Bytes(), "\n")) // remove trailing newline
	sum := hash.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, sum)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString(sig)
	return &Headers{
		Signature: fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`, keyID, strings.Join(headersToSign, " "), enc),
		Date:      date,
		Digest:    digest,
	}, nil
}

func bodyDigest(body []byte) string {
	hash := sha256.New()
	hash.Write(body)
	return fmt.Sprintf("SHA-256=%s", base64.StdEncoding.EncodeToString(hash.Sum(nil)))
}
