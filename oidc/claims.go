package oidc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ClaimSet maps normalized claim URIs ({dialect}/{field}) to string values.
// A ClaimSet is built once per authentication attempt.
type ClaimSet map[string]string

// ClaimURI returns the normalized claim URI for a field of a claim dialect:
// the dialect and the field joined by "/".  The dialect is used as given, so
// a dialect ending in "/" yields a URI with "//" before the field.
func ClaimURI(dialect, field string) string {
	return dialect + "/" + field
}

// dataEnvelope is the field some providers wrap their userinfo document in.
const dataEnvelope = "data"

// NormalizeClaims maps a raw userinfo JSON document into a ClaimSet.  When the
// document has a nested "data" object, that object's fields are used instead
// of the top-level fields.  Each field becomes one claim, with non-string
// values rendered as their compact JSON text.
//
// A blank document (or JSON null) returns an empty ClaimSet and no error.  A
// malformed document, including one followed by anything but whitespace,
// returns an empty ClaimSet and ErrClaimParse.
func NormalizeClaims(rawJSON string, dialect string) (ClaimSet, error) {
	const op = "NormalizeClaims"
	claims := ClaimSet{}
	if strings.TrimSpace(rawJSON) == "" {
		return claims, nil
	}
	dec := json.NewDecoder(strings.NewReader(rawJSON))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return claims, fmt.Errorf("%s: %w: %w", op, ErrClaimParse, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return claims, fmt.Errorf("%s: unexpected data after the userinfo document: %w", op, ErrClaimParse)
	}
	if doc == nil {
		return claims, nil
	}
	fields, ok := doc.(map[string]interface{})
	if !ok {
		return claims, fmt.Errorf("%s: userinfo is a %T, not an object: %w", op, doc, ErrClaimParse)
	}
	if data, ok := fields[dataEnvelope].(map[string]interface{}); ok {
		fields = data
	}
	for k, v := range fields {
		s, err := claimValue(v)
		if err != nil {
			return ClaimSet{}, fmt.Errorf("%s: unable to render claim %q: %w: %w", op, k, ErrClaimParse, err)
		}
		claims[ClaimURI(dialect, k)] = s
	}
	return claims, nil
}

func claimValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "null", nil
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return "", err
		}
		return strings.TrimSuffix(buf.String(), "\n"), nil
	}
}
