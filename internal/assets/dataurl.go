package assets

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errMalformedDataURI = errors.New("malformed data uri")

// DecodeDataURI returns the payload of an inline data URI and the file
// extension derived from its media type.
//
//   - image/svg+xml whose payload carries a percent-encoded "<svg" marker is
//     percent-decoded and gets the "svg" extension
//   - any ";base64" payload is strictly base64-decoded; the extension is the
//     media subtype with any "+suffix" dropped
//   - everything else is rejected
func DecodeDataURI(raw string) ([]byte, string, error) {
	if len(raw) < 5 || !strings.EqualFold(raw[:5], "data:") {
		return nil, "", fmt.Errorf("%w: missing data: scheme", errMalformedDataURI)
	}
	header, payload, found := strings.Cut(raw[5:], ",")
	if !found {
		return nil, "", fmt.Errorf("%w: missing comma", errMalformedDataURI)
	}

	params := strings.Split(header, ";")
	mediaType := strings.ToLower(strings.TrimSpace(params[0]))
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}

	if mediaType == "image/svg+xml" && strings.Contains(strings.ToLower(payload), "%3csvg") {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", errMalformedDataURI, err)
		}
		return []byte(decoded), "svg", nil
	}

	if !isBase64 {
		return nil, "", fmt.Errorf("%w: unsupported encoding for %q", errMalformedDataURI, mediaType)
	}

	ext := subtypeExtension(mediaType)
	if ext == "" {
		return nil, "", fmt.Errorf("%w: missing media subtype", errMalformedDataURI)
	}

	decoded, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errMalformedDataURI, err)
	}
	return decoded, ext, nil
}

// subtypeExtension turns "image/svg+xml" into "svg" and "image/png" into "png".
func subtypeExtension(mediaType string) string {
	_, subtype, found := strings.Cut(mediaType, "/")
	if !found {
		return ""
	}
	subtype, _, _ = strings.Cut(subtype, "+")
	subtype = strings.TrimSpace(subtype)
	if strings.ContainsAny(subtype, `/\. `) {
		return ""
	}
	return subtype
}
