// Package httpsig implements the draft-cavage-http-signatures subset widely
// deployed across the fediverse: parsing and building the Signature header,
// computing the Digest header, and RSA-SHA256 sign/verify over the
// constructed signing string.
//
// The package composes stdlib crypto primitives only — per SPEC_FULL.md
// §4.6, the relay treats RSA sign/verify and SHA-256 digests as library
// primitives it composes rather than reimplements.
package httpsig

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hutchisr/relay/internal/relayerr"
)

// Algorithm is the only signature algorithm this relay speaks.
const Algorithm = "rsa-sha256"

// MaxClockSkew is the maximum allowed difference between the Date header
// and the verifier's clock, per spec.md §4.6 step 2.
const MaxClockSkew = time.Hour

// Signature is a parsed Signature header.
type Signature struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature []byte
}

// ParseSignatureHeader parses the Signature header value into its
// constituent key="value" pairs.
func ParseSignatureHeader(header string) (*Signature, error) {
	if header == "" {
		return nil, relayerr.New(relayerr.KindSignatureMissing, "httpsig.ParseSignatureHeader")
	}

	fields := splitSignatureFields(header)
	sig := &Signature{Algorithm: Algorithm}
	var sigB64 string
	for k, v := range fields {
		switch k {
		case "keyId":
			sig.KeyID = v
		case "algorithm":
			sig.Algorithm = v
		case "headers":
			sig.Headers = strings.Fields(v)
		case "signature":
			sigB64 = v
		}
	}

	if sig.KeyID == "" || sigB64 == "" || len(sig.Headers) == 0 {
		return nil, relayerr.New(relayerr.KindSignatureMalformed, "httpsig.ParseSignatureHeader")
	}

	decoded, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindSignatureMalformed, "httpsig.ParseSignatureHeader", err)
	}
	sig.Signature = decoded
	return sig, nil
}

// splitSignatureFields parses `key="value", key2="value2"` pairs. It is
// deliberately simple: values are always quoted in every known
// implementation of this header, and unquoted or malformed fields are
// skipped rather than causing a hard parse error (mirroring how widely
// deployed inbox implementations tolerate extra unknown parameters).
func splitSignatureFields(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(part[:eq])
		val := strings.TrimSpace(part[eq+1:])
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out
}

// BuildSignatureHeader renders a Signature struct back into header form.
func BuildSignatureHeader(sig *Signature) string {
	return fmt.Sprintf(
		`keyId="%s",algorithm="%s",headers="%s",signature="%s"`,
		sig.KeyID, sig.Algorithm, strings.Join(sig.Headers, " "),
		base64.StdEncoding.EncodeToString(sig.Signature),
	)
}

// Digest computes the SHA-256 Digest header value for a request body.
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDigest reports whether the Digest header on r matches body.
func VerifyDigest(r *http.Request, body []byte) error {
	want := r.Header.Get("Digest")
	if want == "" {
		return relayerr.New(relayerr.KindDigestMismatch, "httpsig.VerifyDigest")
	}
	got := Digest(body)
	if !strings.EqualFold(want, got) {
		return relayerr.New(relayerr.KindDigestMismatch, "httpsig.VerifyDigest")
	}
	return nil
}

// CheckDate verifies the Date header is within MaxClockSkew of now.
func CheckDate(r *http.Request, now time.Time) error {
	dateStr := r.Header.Get("Date")
	if dateStr == "" {
		return relayerr.New(relayerr.KindSignatureStale, "httpsig.CheckDate")
	}
	t, err := http.ParseTime(dateStr)
	if err != nil {
		return relayerr.Wrap(relayerr.KindSignatureStale, "httpsig.CheckDate", err)
	}
	diff := now.Sub(t)
	if diff < 0 {
		diff = -diff
	}
	if diff > MaxClockSkew {
		return relayerr.New(relayerr.KindSignatureStale, "httpsig.CheckDate")
	}
	return nil
}

// SigningString builds the signing string for the given pseudo-header list
// over an outgoing or incoming request. "(request-target)" is rendered as
// "<method> <path>" lowercased, matching draft-cavage-http-signatures.
func SigningString(r *http.Request, headers []string) (string, error) {
	var lines []string
	for _, h := range headers {
		switch strings.ToLower(h) {
		case "(request-target)":
			lines = append(lines, fmt.Sprintf("(request-target): %s %s",
				strings.ToLower(r.Method), r.URL.RequestURI()))
		case "host":
			host := r.Host
			if host == "" {
				host = r.URL.Host
			}
			lines = append(lines, fmt.Sprintf("host: %s", host))
		default:
			v := r.Header.Get(h)
			if v == "" {
				return "", relayerr.New(relayerr.KindSignatureMalformed, "httpsig.SigningString")
			}
			lines = append(lines, fmt.Sprintf("%s: %s", strings.ToLower(h), v))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Sign computes an RSA-SHA256 signature over the given headers of r.
func Sign(r *http.Request, headers []string, key *rsa.PrivateKey, keyID string) error {
	signingStr, err := SigningString(r, headers)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(signingStr))
	sigBytes, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "httpsig.Sign", err)
	}
	header := BuildSignatureHeader(&Signature{
		KeyID:     keyID,
		Algorithm: Algorithm,
		Headers:   headers,
		Signature: sigBytes,
	})
	r.Header.Set("Signature", header)
	return nil
}

// Verify checks sig against r using pub, rebuilding the signing string from
// the headers sig claims to cover.
func Verify(r *http.Request, sig *Signature, pub *rsa.PublicKey) error {
	signingStr, err := SigningString(r, sig.Headers)
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(signingStr))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig.Signature); err != nil {
		return relayerr.Wrap(relayerr.KindSignatureInvalid, "httpsig.Verify", err)
	}
	return nil
}
