package envelope

import (
	"net"
	"strings"

	"github.com/mssola/useragent"
	"github.com/neogan74/auditlens/internal/audit"
)

// UnknownOrigin is recorded when no network origin can be determined.
const UnknownOrigin = "unknown"

// RequestInfo is the raw request an event was observed on.
type RequestInfo struct {
	Method         string            `json:"method,omitempty"`
	Path           string            `json:"path,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           map[string]any    `json:"body,omitempty"`
	PeerAddr       string            `json:"peerAddr,omitempty"`
	ResponseStatus int               `json:"responseStatus,omitempty"`
}

func (r *RequestInfo) header(name string) string {
	if r == nil {
		return ""
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Origin resolves the client address: first X-Forwarded-For entry, then
// X-Real-IP, then the transport peer, then "unknown".
func (r *RequestInfo) Origin() string {
	if r == nil {
		return UnknownOrigin
	}
	if fwd := r.header("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.header("X-Real-IP")); real != "" {
		return real
	}
	if peer := strings.TrimSpace(r.PeerAddr); peer != "" {
		if host, _, err := net.SplitHostPort(peer); err == nil {
			return host
		}
		return peer
	}
	return UnknownOrigin
}

// UserAgent returns the raw User-Agent header.
func (r *RequestInfo) UserAgent() string {
	return r.header("User-Agent")
}

// ClientInfo is parsed user-agent metadata. Every field may be empty.
type ClientInfo struct {
	Browser string
	OS      string
	Device  string
}

// UAParser extracts client metadata from a user-agent string.
type UAParser interface {
	Parse(ua string) ClientInfo
}

// MssolaParser parses user agents with github.com/mssola/useragent.
type MssolaParser struct{}

func (MssolaParser) Parse(raw string) ClientInfo {
	if strings.TrimSpace(raw) == "" {
		return ClientInfo{}
	}
	ua := useragent.New(raw)

	info := ClientInfo{OS: ua.OS()}
	if name, version := ua.Browser(); name != "" {
		info.Browser = strings.TrimSpace(name + " " + version)
	}
	switch {
	case ua.Bot():
		info.Device = "bot"
	case ua.Mobile():
		info.Device = "mobile"
	default:
		info.Device = "desktop"
	}
	return info
}

func (b *Builder) session(req *RequestInfo, sessionID string) *audit.Session {
	if req == nil && sessionID == "" {
		return nil
	}
	s := &audit.Session{ID: sessionID, IPAddress: req.Origin()}
	if req == nil {
		return s
	}
	s.UserAgent = req.UserAgent()
	if b.ua != nil && s.UserAgent != "" {
		info := b.ua.Parse(s.UserAgent)
		s.Browser, s.OS, s.Device = info.Browser, info.OS, info.Device
	}
	return s
}
