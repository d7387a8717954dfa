package proto

import (
	"encoding/base64"
	"fmt"
)

// DecodeBody converts a request's optional body or data payload into raw
// bytes, according to its declared encoding: "base64" payloads are decoded,
// "utf8" and "json" (and unspecified) payloads are taken as UTF-8 bytes,
// and anything else is an error. An absent payload yields no bytes.
func DecodeBody(body *string, encoding string) ([]byte, error) {
	if body == nil {
		return nil, nil
	}

	switch encoding {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(*body)
		if err != nil {
			return nil, fmt.Errorf("base64 decode error: %w", err)
		}
		return b, nil
	case "", "json", "utf8":
		return []byte(*body), nil
	default:
		return nil, fmt.Errorf("unsupported body encoding: %s", encoding)
	}
}

// EncodeBody converts raw response bytes into an outbound payload string
// and its encoding field. Empty payloads return nil for both, so they are
// omitted from outbound frames instead of appearing as empty strings.
func EncodeBody(b []byte) (body, encoding *string) {
	if len(b) == 0 {
		return nil, nil
	}

	s := base64.StdEncoding.EncodeToString(b)
	e := "base64"
	return &s, &e
}
