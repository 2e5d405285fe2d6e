// Package models defines the typed representation of captured HTTP traffic
// and the artifacts derived from it (analyzed exchange sets, endpoint
// groups, skills, correlation graphs). It mirrors the teacher's
// internal/models package: plain structs, JSON tags, no behavior beyond
// small thread-safe accumulators.
package models

import "time"

// BodyFormat classifies how a captured body was encoded on the wire.
type BodyFormat string

const (
	BodyFormatJSON      BodyFormat = "json"
	BodyFormatForm      BodyFormat = "form"
	BodyFormatMultipart BodyFormat = "multipart"
	BodyFormatText      BodyFormat = "text"
	BodyFormatBinary    BodyFormat = "binary"
)

// HeaderMap preserves insertion order and original casing of header names.
// Lookups are case-insensitive; iteration follows Keys.
type HeaderMap struct {
	Keys   []string
	values map[string]string // keyed by lowercased name
	cased  map[string]string // lowercased -> original casing
}

// NewHeaderMap returns an empty, ready-to-use HeaderMap.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{
		values: make(map[string]string),
		cased:  make(map[string]string),
	}
}

// Set stores name/value, preserving the first-seen casing of name.
func (h *HeaderMap) Set(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
		h.cased = make(map[string]string)
	}
	lower := lowerASCII(name)
	if _, exists := h.values[lower]; !exists {
		h.Keys = append(h.Keys, lower)
		h.cased[lower] = name
	}
	h.values[lower] = value
}

// Get performs a case-insensitive lookup.
func (h *HeaderMap) Get(name string) (string, bool) {
	if h == nil || h.values == nil {
		return "", false
	}
	v, ok := h.values[lowerASCII(name)]
	return v, ok
}

// Delete removes name, case-insensitively.
func (h *HeaderMap) Delete(name string) {
	if h == nil || h.values == nil {
		return
	}
	lower := lowerASCII(name)
	if _, ok := h.values[lower]; !ok {
		return
	}
	delete(h.values, lower)
	delete(h.cased, lower)
	for i, k := range h.Keys {
		if k == lower {
			h.Keys = append(h.Keys[:i], h.Keys[i+1:]...)
			break
		}
	}
}

// Each calls fn for every header in insertion order using original casing.
func (h *HeaderMap) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, lower := range h.Keys {
		fn(h.cased[lower], h.values[lower])
	}
}

// Clone returns a deep copy.
func (h *HeaderMap) Clone() *HeaderMap {
	out := NewHeaderMap()
	if h == nil {
		return out
	}
	h.Each(func(name, value string) { out.Set(name, value) })
	return out
}

// Len reports the number of distinct headers.
func (h *HeaderMap) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Keys)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// RequestRecord is the captured side of a request.
type RequestRecord struct {
	Method      string
	URL         string
	Headers     *HeaderMap
	Cookies     map[string]string
	QueryParams map[string]string
	Body        any // parsed JSON when inferable, else nil
	BodyRaw     string
	BodyFormat  BodyFormat
	ContentType string
}

// ResponseRecord is the captured side of a response.
type ResponseRecord struct {
	Status      int
	Headers     *HeaderMap
	Cookies     map[string]string
	Body        any
	BodyRaw     string
	BodyFormat  BodyFormat
	ContentType string
}

// CapturedExchange is one observed request/response pair. Index is a
// 0-based, monotonic, stable insertion ordinal within a capture session.
type CapturedExchange struct {
	Index     int
	Timestamp int64 // logical ordinal, not wall-clock
	Request   RequestRecord
	Response  ResponseRecord
}

// CSRFProvenance records where an observed CSRF token value came from.
type CSRFProvenanceSource string

const (
	CSRFSourceCookie         CSRFProvenanceSource = "cookie"
	CSRFSourceLocalStorage   CSRFProvenanceSource = "localStorage"
	CSRFSourceSessionStorage CSRFProvenanceSource = "sessionStorage"
	CSRFSourceMeta           CSRFProvenanceSource = "meta"
	CSRFSourceResponseBody   CSRFProvenanceSource = "responseBody"
	CSRFSourceUnknown        CSRFProvenanceSource = "unknown"
)

// CSRFProvenance is C5's inferred provenance record for a CSRF token.
type CSRFProvenance struct {
	Source     CSRFProvenanceSource
	Key        string
	HeaderName string
}

// AuthMethod classifies the dominant authentication mechanism observed
// across a capture session.
type AuthMethod string

const (
	AuthMethodNone   AuthMethod = "none"
	AuthMethodBearer AuthMethod = "bearer"
	AuthMethodAPIKey AuthMethod = "api-key"
	AuthMethodCookie AuthMethod = "cookie"
	AuthMethodMixed  AuthMethod = "mixed"
)

// AnalyzedExchangeSet is the immutable, sealed output of C1-C5 over one
// capture session: exchanges plus every flavor of accumulated auth state.
type AnalyzedExchangeSet struct {
	Exchanges       []CapturedExchange
	AuthHeaders     map[string]string
	Cookies         map[string]string
	LocalStorage    map[string]string
	SessionStorage  map[string]string
	MetaTokens      map[string]string
	AuthMethod      AuthMethod
	CSRFProvenance  *CSRFProvenance
	EndpointGroups  []*EndpointGroup
	BaseURLs        []string
	Domains         []string
	DomainContexts  map[string]*DomainContext
	sealed          bool
	capturedAtEpoch int64
}

// Seal freezes the set. Analyzer, correlation engine, and skill generator
// only ever read a sealed set.
func (s *AnalyzedExchangeSet) Seal() {
	s.sealed = true
	s.capturedAtEpoch = time.Now().Unix()
}

// Sealed reports whether the set has been frozen.
func (s *AnalyzedExchangeSet) Sealed() bool { return s.sealed }

// CapturedAt returns the wall-clock second at which Seal was called, or
// zero if the set is not yet sealed.
func (s *AnalyzedExchangeSet) CapturedAt() int64 { return s.capturedAtEpoch }
