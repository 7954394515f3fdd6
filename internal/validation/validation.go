// Package validation holds the format checks enforced at the service
// boundary: gift code and session id formats, money bounds, retailer URLs
// and metadata documents.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
)

// SessionIDPrefix is the literal prefix of every checkout session id
const SessionIDPrefix = "session-"

// Column widths the stored values must fit in
const (
	MaxCodeLength   = 64
	MaxUserIDLength = 255
)

var (
	sessionIDPattern = regexp.MustCompile(`^session-[a-f0-9]+$`)
	txHashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

// Rules holds the configurable bounds used by the checks
type Rules struct {
	CodePrefix       string
	CodeLength       int
	MaxAmountCents   int64
	AllowedDomains   []string
	MaxMetadataBytes int

	codePattern *regexp.Regexp
}

// NewRules compiles the gift code pattern for prefix and length
func NewRules(codePrefix string, codeLength int, maxAmountCents int64, allowedDomains []string, maxMetadataBytes int) *Rules {
	domains := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &Rules{
		CodePrefix:       codePrefix,
		CodeLength:       codeLength,
		MaxAmountCents:   maxAmountCents,
		AllowedDomains:   domains,
		MaxMetadataBytes: maxMetadataBytes,
		codePattern:      regexp.MustCompile(fmt.Sprintf(`^%s[A-Z0-9]{%d}$`, regexp.QuoteMeta(codePrefix), codeLength)),
	}
}

// CheckCode validates the gift code format
func (r *Rules) CheckCode(fields *apperr.FieldList, field, code string) {
	if !r.codePattern.MatchString(code) {
		fields.Add(field, "must be %q followed by %d characters A-Z or 0-9", r.CodePrefix, r.CodeLength)
	}
}

// CheckSessionID validates the session id format
func CheckSessionID(fields *apperr.FieldList, field, sessionID string) {
	if !sessionIDPattern.MatchString(sessionID) {
		fields.Add(field, "must match session-[a-f0-9]+")
	}
}

// ValidSessionID reports whether id is a well-formed session id
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// CheckUserID allows an absent user id, but a present one must be non-blank
// and fit the column
func CheckUserID(fields *apperr.FieldList, field string, userID *string) {
	switch {
	case userID == nil:
	case strings.TrimSpace(*userID) == "":
		fields.Add(field, "must not be empty when present")
	case len(*userID) > MaxUserIDLength:
		fields.Add(field, "must not exceed %d bytes", MaxUserIDLength)
	}
}

// CheckTxHash validates an EVM transaction hash
func CheckTxHash(fields *apperr.FieldList, field, hash string) {
	if !txHashPattern.MatchString(hash) {
		fields.Add(field, "must be 0x followed by 64 hex characters")
	}
}

// CheckPositiveAmount requires 0 < cents <= ceiling
func (r *Rules) CheckPositiveAmount(fields *apperr.FieldList, field string, cents int64) {
	switch {
	case cents <= 0:
		fields.Add(field, "must be a positive integer")
	case cents > r.MaxAmountCents:
		fields.Add(field, "must not exceed %d", r.MaxAmountCents)
	}
}

// CheckNonNegativeAmount requires 0 <= cents <= ceiling
func (r *Rules) CheckNonNegativeAmount(fields *apperr.FieldList, field string, cents int64) {
	switch {
	case cents < 0:
		fields.Add(field, "must not be negative")
	case cents > r.MaxAmountCents:
		fields.Add(field, "must not exceed %d", r.MaxAmountCents)
	}
}

// CheckRetailerURL requires an absolute http(s) URL whose host is an
// allowed domain or one of its subdomains
func (r *Rules) CheckRetailerURL(fields *apperr.FieldList, field, raw string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		fields.Add(field, "must be an absolute URL")
		return
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		fields.Add(field, "scheme %q is not supported", u.Scheme)
		return
	}
	if !r.AllowedHost(u.Hostname()) {
		fields.Add(field, "host %q is not an approved retailer domain", u.Hostname())
	}
}

// AllowedHost reports whether host belongs to the approved domain set
func (r *Rules) AllowedHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, d := range r.AllowedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// ParseMetadata parses a JSON object of at most MaxMetadataBytes into
// metadata. Empty text yields nil.
func (r *Rules) ParseMetadata(fields *apperr.FieldList, field, text string) model.Metadata {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) > r.MaxMetadataBytes {
		fields.Add(field, "must not exceed %d bytes", r.MaxMetadataBytes)
		return nil
	}
	var doc structpb.Struct
	if err := protojson.Unmarshal([]byte(text), &doc); err != nil {
		fields.Add(field, "must be a JSON object: %v", err)
		return nil
	}
	return model.Metadata(doc.AsMap())
}

// CheckMetadata verifies an already decoded bag is representable as a
// structured document within the size bound
func (r *Rules) CheckMetadata(fields *apperr.FieldList, field string, m model.Metadata) {
	if len(m) == 0 {
		return
	}
	doc, err := structpb.NewStruct(m)
	if err != nil {
		fields.Add(field, "unsupported value: %v", err)
		return
	}
	b, err := protojson.Marshal(doc)
	if err != nil {
		fields.Add(field, "unsupported value: %v", err)
		return
	}
	if len(b) > r.MaxMetadataBytes {
		fields.Add(field, "must not exceed %d bytes", r.MaxMetadataBytes)
	}
}
