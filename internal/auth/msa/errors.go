package msa

import "fmt"

// FailureKind classifies where in the chain an authentication died, so
// the UI can tell "buy the game" from "check your network" from "retry".
type FailureKind string

const (
	// IdentityExchangeFailed: the authorization code could not be
	// exchanged for an identity token. Terminal; the code is single-use.
	IdentityExchangeFailed FailureKind = "identity_exchange_failed"
	// NetworkAuthFailed: the Xbox Live user authentication hop failed.
	NetworkAuthFailed FailureKind = "network_auth_failed"
	// SecurityTokenFailed: the XSTS authorization hop failed, including
	// account-condition rejections (no Xbox profile, region, age).
	SecurityTokenFailed FailureKind = "security_token_failed"
	// GameTokenFailed: the game service rejected the composed bearer.
	GameTokenFailed FailureKind = "game_token_failed"
	// NoEntitlement: the identity authenticates fine but owns no license.
	NoEntitlement FailureKind = "no_entitlement"
	// ProfileFetchFailed: the profile endpoint was unreachable, distinct
	// from NoEntitlement so "buy the game" is never shown for a network
	// outage.
	ProfileFetchFailed FailureKind = "profile_fetch_failed"
	// IncompleteProfile: the profile response lacked id or name, which
	// usually means the client registration is missing API permissions.
	IncompleteProfile FailureKind = "incomplete_profile"
)

// Error is a classified chain failure. Err keeps the upstream cause for
// diagnostics; Message is safe to show to the user.
type Error struct {
	Kind    FailureKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func failed(kind FailureKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// xstsConditionMessage maps XSTS XErr codes to actionable user text.
func xstsConditionMessage(code uint64) string {
	switch code {
	case 2148916233:
		return "this Microsoft account has no Xbox profile; create one first"
	case 2148916235:
		return "Xbox Live is not available in this account's region"
	case 2148916236, 2148916237:
		return "this account requires adult verification"
	case 2148916238:
		return "this is a child account and must be added to a family group"
	default:
		return "Xbox Live authorization was refused"
	}
}
