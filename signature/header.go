package signature

import (
	"strconv"
	"strings"
)

// SignatureHeader is the parsed form of the wire header
// "t=<unix-seconds>,v1=<hex-hmac>". Unknown elements are tolerated so the
// service can extend the header without breaking older clients.
type SignatureHeader struct {
	Timestamp int64
	Signature string
}

// ParseSignatureHeader parses the comma-separated key=value signature header.
//
// Both the t= and v1= elements are mandatory. Elements are trimmed before
// parsing, so "t=100, v1=abc" and "t=100,v1=abc" are equivalent. Elements
// with unrecognized keys (or no "=" at all) are skipped, not rejected.
func ParseSignatureHeader(header string) (SignatureHeader, error) {
	if strings.TrimSpace(header) == "" {
		return SignatureHeader{}, newError(CodeMissingSignatureHeader, "signature header is empty")
	}

	var (
		parsed       SignatureHeader
		hasTimestamp bool
		hasSignature bool
	)

	for _, element := range strings.Split(header, ",") {
		element = strings.TrimSpace(element)
		key, value, found := strings.Cut(element, "=")
		if !found {
			continue
		}

		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return SignatureHeader{}, wrapError(CodeInvalidTimestamp, "timestamp is not an integer", err)
			}
			parsed.Timestamp = ts
			hasTimestamp = true
		case "v1":
			parsed.Signature = value
			hasSignature = true
		}
	}

	if !hasTimestamp || !hasSignature {
		return SignatureHeader{}, newError(CodeInvalidSignatureFormat, "header is missing t= or v1= element")
	}

	return parsed, nil
}
