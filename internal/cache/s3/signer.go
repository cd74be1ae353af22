package s3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	sigAlgorithm = "AWS4-HMAC-SHA256"
	sigService   = "s3"
	sigTerminal  = "aws4_request"
)

// signer adds AWS Signature Version 4 headers to requests.
type signer struct {
	accessKey    string
	secretKey    string
	sessionToken string
	region       string
	now          func() time.Time
}

// sign sets the x-amz headers and the Authorization header on req.
func (s signer) sign(req *http.Request, host, canonicalURI, canonicalQuery, payloadHash string) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	stamp := now().UTC().Format("20060102T150405Z")
	req.Header.Set("X-Amz-Date", stamp)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if s.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", s.sessionToken)
	}

	headers, signed := canonicalHeaders(host, req.Header)
	canonical := req.Method + "\n" +
		canonicalURI + "\n" +
		canonicalQuery + "\n" +
		headers + "\n" +
		signed + "\n" +
		payloadHash
	scope := s.scope(stamp[:8])
	digest := sha256.Sum256([]byte(canonical))
	toSign := sigAlgorithm + "\n" + stamp + "\n" + scope + "\n" + hex.EncodeToString(digest[:])

	signature := hex.EncodeToString(hmacSHA256(s.key(stamp[:8]), toSign))
	req.Header.Set("Authorization", sigAlgorithm+
		" Credential="+s.accessKey+"/"+scope+
		", SignedHeaders="+signed+
		", Signature="+signature)
}

func (s signer) scope(date string) string {
	return date + "/" + s.region + "/" + sigService + "/" + sigTerminal
}

// key derives the signing key for date.
func (s signer) key(date string) []byte {
	key := []byte("AWS4" + s.secretKey)
	for _, part := range []string{date, s.region, sigService, sigTerminal} {
		key = hmacSHA256(key, part)
	}
	return key
}

// canonicalHeaders returns the canonical header block and the signed header list.
// Only host and x-amz-* headers are signed.
func canonicalHeaders(host string, headers http.Header) (string, string) {
	entries := map[string]string{"host": strings.TrimSpace(host)}
	for name, values := range headers {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		trimmed := make([]string, len(values))
		for i, value := range values {
			trimmed[i] = strings.Join(strings.Fields(value), " ")
		}
		entries[lower] = strings.Join(trimmed, ",")
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(entries[name])
		b.WriteByte('\n')
	}
	return b.String(), strings.Join(names, ";")
}

// canonicalizeQuery returns the query string sorted and escaped the AWS way.
func canonicalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(values))
	for key, vals := range values {
		for _, value := range vals {
			pairs = append(pairs, awsEscape(key)+"="+awsEscape(value))
		}
	}
	slices.Sort(pairs)
	return strings.Join(pairs, "&")
}

func awsEscape(value string) string {
	escaped := url.QueryEscape(value)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return strings.ReplaceAll(escaped, "%7E", "~")
}

// encodePath escapes every segment of an object path.
func encodePath(value string) string {
	if value == "" {
		return "/"
	}
	segments := strings.Split(value, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}
