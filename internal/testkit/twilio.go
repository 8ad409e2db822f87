package testkit

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// TwilioSignature computes the X-Twilio-Signature Twilio sends for a
// form POST to fullURL: base64 HMAC-SHA1, keyed by the auth token, over
// the URL followed by each sorted name+value pair.
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	pairs := make([]string, 0, len(params))
	for k := range params {
		pairs = append(pairs, k+params.Get(k))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(fullURL + strings.Join(pairs, "")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
