package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
)

const sigV4Algorithm = "AWS4-HMAC-SHA256"

// sigV4Signer assina requisições no formato AWS Signature V4.
// Apenas host, content-type e cabeçalhos x-amz-* entram na assinatura.
type sigV4Signer struct {
	accessKey string
	secretKey string
	region    string
	service   string
}

func (s sigV4Signer) sign(req *http.Request, payloadHash string, now time.Time) {
	now = now.UTC()
	amzDate := now.Format("20060102T150405Z")
	day := now.Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	names, canonical := s.canonicalHeaders(req)
	signed := strings.Join(names, ";")

	query := req.URL.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var pairs []string
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			pairs = append(pairs, queryEscape(k)+"="+queryEscape(v))
		}
	}

	path := req.URL.Path
	if path == "" {
		path = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		pathEscape(path),
		strings.Join(pairs, "&"),
		canonical,
		signed,
		payloadHash,
	}, "\n")

	scope := day + "/" + s.region + "/" + s.service + "/aws4_request"
	digest := sha256.Sum256([]byte(canonicalRequest))
	toSign := strings.Join([]string{sigV4Algorithm, amzDate, scope, hex.EncodeToString(digest[:])}, "\n")

	key := hmacSum([]byte("AWS4"+s.secretKey), day)
	for _, part := range []string{s.region, s.service, "aws4_request"} {
		key = hmacSum(key, part)
	}
	signature := hex.EncodeToString(hmacSum(key, toSign))

	req.Header.Set("Authorization", sigV4Algorithm+
		" Credential="+s.accessKey+"/"+scope+
		", SignedHeaders="+signed+
		", Signature="+signature)
}

func (s sigV4Signer) canonicalHeaders(req *http.Request) ([]string, string) {
	values := map[string]string{"host": req.URL.Host}
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if lower != "content-type" && !strings.HasPrefix(lower, "x-amz-") {
			continue
		}
		trimmed := make([]string, len(vals))
		for i, v := range vals {
			trimmed[i] = strings.Join(strings.Fields(v), " ")
		}
		values[lower] = strings.Join(trimmed, ",")
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	return names, b.String()
}

func hmacSum(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func pathEscape(p string) string { return awsEscape(p, false) }

func queryEscape(v string) string { return awsEscape(v, true) }

// awsEscape segue a RFC 3986 sem os desvios de net/url.
func awsEscape(in string, slash bool) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		case c == '/' && !slash:
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
