package tools

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"cakisi/internal/core"
)

// Text tool actions.
const (
	ActionEncode   = "encode"
	ActionDecode   = "decode"
	ActionPrettify = "prettify"
	ActionMinify   = "minify"
	ActionValidate = "validate"
)

// KnownAction reports whether action is one of the text tool actions.
func KnownAction(action string) bool {
	switch action {
	case ActionEncode, ActionDecode, ActionPrettify, ActionMinify, ActionValidate:
		return true
	}
	return false
}

// Base64 encodes or decodes text. Decoding output that is not UTF-8 text is
// rejected; DecodeBase64 returns raw bytes for file output.
func Base64(action, input string) (string, error) {
	switch action {
	case ActionEncode:
		return base64.StdEncoding.EncodeToString([]byte(input)), nil
	case ActionDecode:
		data, err := DecodeBase64(input)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(data) {
			return "", core.NewInvalidRequestError("decoded data is binary; use decode-file instead", nil).WithTool(SlugBase64)
		}
		return string(data), nil
	default:
		return "", unknownAction(SlugBase64, action)
	}
}

// DecodeBase64 decodes standard or URL-safe Base64, padded or not.
// Whitespace and a data URI prefix are ignored.
func DecodeBase64(input string) ([]byte, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, core.NewInvalidRequestError("invalid base64 input", lastErr).WithTool(SlugBase64)
}

// URL percent-encodes or decodes text. Encoding first undoes any existing
// encoding so already-encoded input is not encoded twice. Full URLs keep
// their structure; fragments are encoded completely.
func URL(action, input string) (string, error) {
	switch action {
	case ActionEncode:
		work := input
		if decoded, err := url.PathUnescape(input); err == nil {
			work = decoded
		}
		if u, err := url.Parse(work); err == nil && u.Scheme != "" && u.Host != "" {
			u.RawQuery = encodeQuery(u.RawQuery)
			return u.String(), nil
		}
		return strings.ReplaceAll(url.QueryEscape(work), "+", "%20"), nil
	case ActionDecode:
		out, err := url.PathUnescape(input)
		if err != nil {
			return "", core.NewInvalidRequestError("invalid percent-encoding", err).WithTool(SlugURLEncoder)
		}
		return out, nil
	default:
		return "", unknownAction(SlugURLEncoder, action)
	}
}

// JSONSummary describes a validated document.
type JSONSummary struct {
	Type     string `json:"type"`
	Elements int    `json:"elements"`
	Bytes    int    `json:"bytes"`
}

// JSON prettifies (four-space indent), minifies or validates a document.
// For validate the result is a one-line description.
func JSON(action, input string) (string, error) {
	if !gjson.Valid(input) {
		return "", core.NewInvalidRequestError("invalid JSON", nil).WithTool(SlugJSONFormatter)
	}

	switch action {
	case ActionPrettify:
		out := pretty.PrettyOptions([]byte(input), &pretty.Options{Width: 80, Indent: "    "})
		return strings.TrimRight(string(out), "\n"), nil
	case ActionMinify:
		return string(pretty.Ugly([]byte(input))), nil
	case ActionValidate:
		s := SummarizeJSON(input)
		return fmt.Sprintf("valid JSON %s with %d top-level elements", s.Type, s.Elements), nil
	default:
		return "", unknownAction(SlugJSONFormatter, action)
	}
}

// SummarizeJSON reports the top-level type and element count of a valid
// document.
func SummarizeJSON(input string) JSONSummary {
	res := gjson.Parse(input)
	s := JSONSummary{Bytes: len(input)}
	switch {
	case res.IsObject():
		s.Type = "object"
	case res.IsArray():
		s.Type = "array"
	default:
		s.Type = strings.ToLower(res.Type.String())
		s.Elements = 1
		return s
	}
	res.ForEach(func(_, _ gjson.Result) bool {
		s.Elements++
		return true
	})
	return s
}

// encodeQuery escapes each key and value of a raw query, keeping the
// separators and parameter order.
func encodeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	for i, pair := range pairs {
		k, v, hasValue := strings.Cut(pair, "=")
		pairs[i] = url.QueryEscape(k)
		if hasValue {
			pairs[i] += "=" + url.QueryEscape(v)
		}
	}
	return strings.Join(pairs, "&")
}

func unknownAction(tool, action string) error {
	return core.NewInvalidRequestError(fmt.Sprintf("unknown action %q", action), nil).WithTool(tool)
}
