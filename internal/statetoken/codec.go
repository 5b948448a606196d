// Package statetoken mints and validates the OAuth2 state parameter
// used to protect the Search Console authorization flow against CSRF
// and replay. Tokens travel as URL-safe base64 over a JSON payload, so
// the encoded form needs no further escaping in a query string.
package statetoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxAge is how long an issued token stays valid. The window is closed:
// a token aged exactly MaxAge is still accepted.
const MaxAge = 30 * time.Minute

var (
	// ErrMalformed means the input is not a state token at all, or has
	// passed through more transport encodings than the codec tolerates.
	ErrMalformed = errors.New("state token malformed")
	// ErrMissingField is the base of every MissingFieldError.
	ErrMissingField = errors.New("state token field missing")
	// ErrInvalidTimestamp means issuedAt is not a positive integer.
	ErrInvalidTimestamp = errors.New("state token timestamp invalid")
	// ErrExpired means the token was issued more than MaxAge ago.
	ErrExpired = errors.New("state token expired")
)

// MissingFieldError reports which required wire field was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("state token field missing: %s", e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrMissingField }

// Token is the decoded authorization context carried through the
// provider redirect. It is ephemeral and never persisted; replay
// protection comes from single-use nonce consumption on callback.
type Token struct {
	Nonce    string
	Purpose  string
	IssuedAt int64 // seconds since epoch
	Origin   string
}

// wire is the fixed JSON shape of the state parameter. Unknown extra
// keys are ignored on decode for forward compatibility.
type wire struct {
	Nonce    *string      `json:"nonce"`
	Purpose  *string      `json:"purpose"`
	IssuedAt *json.Number `json:"issuedAt"`
	Origin   *string      `json:"originIdentifier"`
}

// Issue mints a new token for the given flow purpose and issuing
// origin. Nonce generation is the only step that can fail, and only
// when the entropy source is unavailable.
func Issue(purpose, origin string, now time.Time) (*Token, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating state nonce: %w", err)
	}
	return &Token{
		Nonce:    id.String(),
		Purpose:  purpose,
		IssuedAt: now.Unix(),
		Origin:   origin,
	}, nil
}

// Encode serializes the token to its transport form: JSON, then
// unpadded URL-safe base64. The output alphabet (A-Z a-z 0-9 - _) is
// safe in a query parameter without percent-encoding.
func Encode(t *Token) string {
	issued := json.Number(strconv.FormatInt(t.IssuedAt, 10))
	// Marshal of a flat struct with string and number fields cannot fail.
	raw, _ := json.Marshal(wire{
		Nonce:    &t.Nonce,
		Purpose:  &t.Purpose,
		IssuedAt: &issued,
		Origin:   &t.Origin,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses and validates a state parameter received on callback.
//
// Transport layers outside our control may or may not have
// percent-decoded the value already, so Decode tries the string as-is
// and, on structural failure, exactly one percent-decode before giving
// up. The cap is deliberate: unbounded re-decoding of
// attacker-controlled input invites ambiguity and wasted work.
func Decode(raw string, now time.Time) (*Token, error) {
	w, err := decodeOnce(raw)
	if err != nil {
		unescaped, uerr := url.QueryUnescape(raw)
		if uerr != nil {
			return nil, ErrMalformed
		}
		if w, err = decodeOnce(unescaped); err != nil {
			return nil, ErrMalformed
		}
	}

	switch {
	case w.Nonce == nil || *w.Nonce == "":
		return nil, &MissingFieldError{Field: "nonce"}
	case w.Purpose == nil || *w.Purpose == "":
		return nil, &MissingFieldError{Field: "purpose"}
	case w.IssuedAt == nil:
		return nil, &MissingFieldError{Field: "issuedAt"}
	case w.Origin == nil || *w.Origin == "":
		return nil, &MissingFieldError{Field: "originIdentifier"}
	}

	issued, err := w.IssuedAt.Int64()
	if err != nil || issued <= 0 {
		return nil, ErrInvalidTimestamp
	}
	if now.Unix()-issued > int64(MaxAge/time.Second) {
		return nil, ErrExpired
	}

	return &Token{
		Nonce:    *w.Nonce,
		Purpose:  *w.Purpose,
		IssuedAt: issued,
		Origin:   *w.Origin,
	}, nil
}

// decodeOnce applies a single base64+JSON decode. Padded input is
// tolerated; some transports re-pad the value.
func decodeOnce(s string) (*wire, error) {
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, err
	}
	return &w, nil
}
