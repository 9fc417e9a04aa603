package auth

import (
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLength = 12
	passwordSpecials  = "!@#$%^&*"
)

// PasswordRule identifies a single password requirement.
type PasswordRule int

const (
	RuleLength PasswordRule = iota + 1
	RuleUppercase
	RuleDigit
	RuleSpecial
)

var ruleMessages = map[PasswordRule]string{
	RuleLength:    "password must be at least 12 characters long",
	RuleUppercase: "password must contain at least one uppercase letter",
	RuleDigit:     "password must contain at least one number",
	RuleSpecial:   "password must contain at least one special character (!@#$%^&*)",
}

// PolicyViolation names the first password rule that was not met.
type PolicyViolation struct {
	Rule PasswordRule
}

func (v *PolicyViolation) Error() string { return ruleMessages[v.Rule] }

func (v *PolicyViolation) Unwrap() error { return ErrInvalidInput }

// ValidatePassword checks length, uppercase, digit and special-character rules
// in that order and reports the first one that fails.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &PolicyViolation{Rule: RuleLength}
	}
	var upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	switch {
	case !upper:
		return &PolicyViolation{Rule: RuleUppercase}
	case !digit:
		return &PolicyViolation{Rule: RuleDigit}
	case !special:
		return &PolicyViolation{Rule: RuleSpecial}
	}
	return nil
}
