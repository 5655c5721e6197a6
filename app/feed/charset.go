package feed

import (
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var xmlEncodingDecl = regexp.MustCompile(`^(<\?xml[^>]*?encoding=)["'][^"']*["']`)

// decodeBody converts a response body to UTF-8 using the Content-Type charset.
// The XML declaration is rewritten so the parser does not decode it twice.
func decodeBody(data []byte, contentType string) (string, error) {
	charset := ""
	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			charset = strings.ToLower(strings.TrimSpace(params["charset"]))
		}
	}

	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(data), nil
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		// Unknown label; leave detection to the XML declaration.
		return string(data), nil
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}

	content := strings.TrimPrefix(string(decoded), "\ufeff")
	return xmlEncodingDecl.ReplaceAllString(content, `${1}"UTF-8"`), nil
}
