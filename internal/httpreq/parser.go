// Package httpreq parses an HTTP/1.1 request head into a struct of
// named fields. It is deliberately not a general HTTP parser: this
// system only needs enough of the request to detect a WebSocket
// upgrade handshake and to otherwise echo a plain 200 OK.
package httpreq

import (
	"fmt"
	"strings"
)

// Request is the parse result of an HTTP/1.1 request head. Immutable
// once returned by Parse.
type Request struct {
	Verb     string
	Path     string
	Protocol string

	Host                   string
	Connection             string
	CacheControl           string
	UserAgent              string
	Accept                 string
	AcceptEncoding         string
	AcceptLanguage         string
	SecWebSocketVersion    string
	SecWebSocketKey        string
	Upgrade                string
	SecWebSocketExtensions string
}

// ErrMalformedRequest is returned when the request line has fewer than
// the three space-separated tokens a request line needs. The Request
// returned with it is zero-valued: neither the request line nor any
// header is filled in. internal/worker treats it as "not a valid
// request" and replies with the bare 200 OK.
var ErrMalformedRequest = fmt.Errorf("httpreq: malformed request line")

var headerFields = map[string]func(*Request, string){
	"host":                     func(r *Request, v string) { r.Host = v },
	"connection":               func(r *Request, v string) { r.Connection = v },
	"cache-control":            func(r *Request, v string) { r.CacheControl = v },
	"user-agent":               func(r *Request, v string) { r.UserAgent = v },
	"accept":                   func(r *Request, v string) { r.Accept = v },
	"accept-encoding":          func(r *Request, v string) { r.AcceptEncoding = v },
	"accept-language":          func(r *Request, v string) { r.AcceptLanguage = v },
	"sec-websocket-version":    func(r *Request, v string) { r.SecWebSocketVersion = v },
	"sec-websocket-key":        func(r *Request, v string) { r.SecWebSocketKey = v },
	"upgrade":                  func(r *Request, v string) { r.Upgrade = v },
	"sec-websocket-extensions": func(r *Request, v string) { r.SecWebSocketExtensions = v },
}

// Parse splits raw on line feeds, reads verb/path/protocol from the
// first line, and fills in any recognised header field from the
// remaining lines. Unknown headers are silently ignored. Leading and
// trailing ASCII whitespace (including CR) is stripped from every
// token and value.
func Parse(raw string) (Request, error) {
	lines := strings.Split(raw, "\n")

	var req Request
	if len(lines) == 0 {
		return req, ErrMalformedRequest
	}

	tokens := strings.Fields(lines[0])
	if len(tokens) < 3 {
		return req, ErrMalformedRequest
	}
	req.Verb = strings.TrimSpace(tokens[0])
	req.Path = strings.TrimSpace(tokens[1])
	req.Protocol = strings.TrimSpace(tokens[2])

	for _, line := range lines[1:] {
		name, value, ok := splitHeaderLine(line)
		if !ok {
			continue
		}
		if set, known := headerFields[strings.ToLower(name)]; known {
			set(&req, value)
		}
	}

	return req, nil
}

// splitHeaderLine splits a header line on its first colon, trimming
// whitespace (including CR) from both sides.
func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	name = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", "", false
	}
	return name, value, true
}

// IsUpgradeRequest reports whether req carries both headers required
// to trigger a WebSocket upgrade (spec §4.3: Handshaking state). The
// Connection header may list multiple comma-separated tokens, so
// "keep-alive, Upgrade" qualifies just as well as a bare "Upgrade".
func (r Request) IsUpgradeRequest() bool {
	if !strings.EqualFold(r.Upgrade, "websocket") {
		return false
	}
	for _, tok := range strings.Split(r.Connection, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}
