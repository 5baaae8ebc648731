// Package rawhttp renders GraphQL HTTP exchanges as text for tracing and
// error reports, and decodes compressed response bodies.
package rawhttp

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/yosssi/gohtml"
)

// RedactedValue replaces the value of redacted headers in dumps.
const RedactedValue = "[redacted]"

// Dump holds the text of one HTTP message. Pretty is empty when the body
// could not be prettified.
type Dump struct {
	Raw    []byte
	Pretty string
}

// String returns the prettified dump when available, the raw dump otherwise.
func (d Dump) String() string {
	if d.Pretty != "" {
		return d.Pretty
	}
	return string(d.Raw)
}

// Prettify indents JSON, XML and HTML bodies. Any other body yields an empty slice.
func Prettify(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return []byte{}, nil
	}

	trimmed := bytes.TrimSpace(body)

	var jsonData any
	if err := json.Unmarshal(trimmed, &jsonData); err == nil {
		output, err := json.MarshalIndent(jsonData, "", "  ")
		if err != nil {
			return []byte{}, fmt.Errorf("remarshalling JSON: %w", err)
		}
		return output, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimmed); err == nil && doc.Root() != nil {
		doc.Indent(1)
		var output bytes.Buffer
		if _, err := doc.WriteTo(&output); err != nil {
			return []byte{}, fmt.Errorf("writing indented XML : %w", err)
		}
		return output.Bytes(), nil
	}

	// Gateways in front of the API answer errors with HTML pages.
	contentType := mimetype.Detect(trimmed).String()
	if strings.Contains(contentType, "text/html") ||
		(bytes.HasPrefix(trimmed, []byte("<")) && !bytes.HasPrefix(trimmed, []byte("<?xml"))) {
		output := gohtml.FormatBytes(trimmed)
		if !bytes.Equal(output, trimmed) && len(output) > 0 {
			return output, nil
		}
	}

	return []byte{}, nil
}

// PrettyBody returns the prettified body, or the body itself when it cannot be prettified.
func PrettyBody(body []byte) string {
	pretty, err := Prettify(body)
	if err != nil || len(pretty) == 0 {
		return string(body)
	}
	return string(pretty)
}

// DecodeBody decompresses body according to a Content-Encoding value.
// gzip and br are supported; identity and empty encodings return body unchanged.
func DecodeBody(encoding string, body []byte) ([]byte, error) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("reading gzip body : %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decoding %s body : %w", encoding, err)
	}
	return decoded, nil
}

// DumpRequest dumps req and resets its body so it can still be sent.
// The values of the headers named in redact are masked in the dump.
func DumpRequest(req *http.Request, redact ...string) (Dump, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return Dump{}, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}

	masked := req.Clone(req.Context())
	masked.Body = nil
	masked.Header = redactHeader(req.Header, redact)

	head, err := httputil.DumpRequest(masked, false)
	if err != nil {
		return Dump{}, fmt.Errorf("dumping request : %w", err)
	}
	return newDump(head, body), nil
}

// DumpResponse dumps res and resets its body so it can still be read.
func DumpResponse(res *http.Response) (Dump, error) {
	head, err := httputil.DumpResponse(res, false)
	if err != nil {
		return Dump{}, fmt.Errorf("dumping response : %w", err)
	}

	var body []byte
	if res.Body != nil {
		body, err = io.ReadAll(res.Body)
		if err != nil {
			return Dump{}, fmt.Errorf("reading response body: %w", err)
		}
		res.Body = io.NopCloser(bytes.NewReader(body))
	}
	return newDump(head, body), nil
}

func newDump(head, body []byte) Dump {
	raw := make([]byte, 0, len(head)+len(body))
	raw = append(raw, head...)
	raw = append(raw, body...)

	dump := Dump{Raw: raw}
	pretty, err := Prettify(body)
	if err == nil && len(pretty) > 0 {
		dump.Pretty = string(head) + string(pretty)
	}
	return dump
}

func redactHeader(header http.Header, names []string) http.Header {
	out := header.Clone()
	if out == nil {
		out = make(http.Header)
	}
	for _, name := range names {
		if _, ok := out[http.CanonicalHeaderKey(name)]; ok {
			out.Set(name, RedactedValue)
		}
	}
	return out
}
