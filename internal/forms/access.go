package forms

import "github.com/fieldsetapp/fieldset/backend/internal/auth"

// AccessDecision is the outcome of the privacy-tier evaluation.
type AccessDecision string

const (
	AccessAllow AccessDecision = "allow"
	AccessDeny  AccessDecision = "deny"
)

// DecideAccess applies the privacy tier of a form to an optional requester
// identity. It is evaluated identically for reads and writes; whether the
// form exists or is active is the caller's problem, and ownership-only
// management checks are layered separately on top.
//
// The tier switch is deliberately explicit so the fail-closed default stays
// auditable: an unrecognised tier denies everyone but the creator.
func DecideAccess(identity *auth.Identity, form *FormDefinition) AccessDecision {
	if form == nil {
		return AccessDeny
	}
	if form.PrivacyTier == PrivacyTierPublic {
		return AccessAllow
	}
	if IsCreator(identity, form) {
		return AccessAllow
	}

	switch form.PrivacyTier {
	case PrivacyTierCreatorOnly:
		return AccessDeny
	case PrivacyTierRestrictedEmails:
		if identity == nil {
			return AccessDeny
		}
		email := NormalizeEmail(identity.Email)
		if email == "" {
			return AccessDeny
		}
		for _, allowed := range form.AllowedEmails() {
			if NormalizeEmail(allowed) == email {
				return AccessAllow
			}
		}
		return AccessDeny
	default:
		return AccessDeny
	}
}

// IsCreator reports whether the identity owns the form. Forms always have a
// creator; an empty identity id never matches.
func IsCreator(identity *auth.Identity, form *FormDefinition) bool {
	if identity == nil || form == nil {
		return false
	}
	return identity.ID != "" && identity.ID == form.CreatorID
}
