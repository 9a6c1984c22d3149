package token

import "errors"

// Reason names why a token failed verification.
type Reason string

const (
	ReasonMalformed     Reason = "malformed"
	ReasonBadSignature  Reason = "bad_signature"
	ReasonBadPayload    Reason = "bad_payload"
	ReasonWrongPlan     Reason = "wrong_plan"
	ReasonMissingExpiry Reason = "missing_expiry"
	ReasonExpired       Reason = "expired"
)

// Kind groups reasons into the error taxonomy shown to callers.
type Kind string

const (
	KindFormat         Kind = "format"
	KindAuthentication Kind = "authentication"
	KindSemantic       Kind = "semantic"
	KindTemporal       Kind = "temporal"
)

var (
	ErrMalformed     = errors.New("token is malformed")
	ErrBadSignature  = errors.New("token signature mismatch")
	ErrBadPayload    = errors.New("token payload is invalid")
	ErrWrongPlan     = errors.New("token plan does not grant pro")
	ErrMissingExpiry = errors.New("token expiration is missing or invalid")
	ErrExpired       = errors.New("token has expired")
)

var reasonErrors = map[Reason]error{
	ReasonMalformed:     ErrMalformed,
	ReasonBadSignature:  ErrBadSignature,
	ReasonBadPayload:    ErrBadPayload,
	ReasonWrongPlan:     ErrWrongPlan,
	ReasonMissingExpiry: ErrMissingExpiry,
	ReasonExpired:       ErrExpired,
}

var reasonKinds = map[Reason]Kind{
	ReasonMalformed:     KindFormat,
	ReasonBadSignature:  KindAuthentication,
	ReasonBadPayload:    KindFormat,
	ReasonWrongPlan:     KindSemantic,
	ReasonMissingExpiry: KindSemantic,
	ReasonExpired:       KindTemporal,
}

// Kind reports the taxonomy group of r.
func (r Reason) Kind() Kind {
	return reasonKinds[r]
}

// Message is a human readable description of r.
func (r Reason) Message() string {
	if err, ok := reasonErrors[r]; ok {
		return err.Error()
	}
	return ""
}

// Result is the outcome of Verify. Payload is set only when OK.
type Result struct {
	OK      bool
	Payload *Payload
	Reason  Reason
}

// Err returns the sentinel error for a failed result, nil on success.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return reasonErrors[r.Reason]
}

func fail(r Reason) Result {
	return Result{Reason: r}
}
