package domain

import "time"

// User carries the identity and status flags the bonus engine checks before
// paying anything out.
type User struct {
	ID            int64
	PhoneNumber   string
	Email         *string
	CountryCode   string
	ReferralCode  string
	ReferredBy    *int64
	Active        bool
	Verified      bool
	BonusEligible bool
	Flagged       bool
	KYCStatus     string
	DeviceID      *string
	LastIP        *string
	CreatedAt     time.Time
}

const (
	KYCStatusPending  = "pending"
	KYCStatusApproved = "approved"
	KYCStatusRejected = "rejected"
)

// EligibilityGates are the config-driven checks layered on top of the
// mandatory active flag.
type EligibilityGates struct {
	RequireVerified  bool
	RequireKYC       bool
	RequireEligible  bool
	MinAccountAge    time.Duration
	AllowedCountries []string
}

// EligibleForBonus reports whether the user may receive referral bonuses
// under the given gates at the given instant.
func (u *User) EligibleForBonus(g EligibilityGates, now time.Time) (bool, string) {
	if !u.Active {
		return false, "user inactive"
	}
	if u.Flagged {
		return false, "user flagged for review"
	}
	if g.RequireEligible && !u.BonusEligible {
		return false, "user not bonus eligible"
	}
	if g.RequireVerified && !u.Verified {
		return false, "user not verified"
	}
	if g.RequireKYC && u.KYCStatus != KYCStatusApproved {
		return false, "kyc not approved"
	}
	if g.MinAccountAge > 0 && now.Sub(u.CreatedAt) < g.MinAccountAge {
		return false, "account too new"
	}
	if len(g.AllowedCountries) > 0 {
		allowed := false
		for _, c := range g.AllowedCountries {
			if c == u.CountryCode {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, "country not allowed"
		}
	}
	return true, ""
}
