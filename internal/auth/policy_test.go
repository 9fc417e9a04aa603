package auth

import (
	"errors"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		rule     PasswordRule
	}{
		{"valid", "Abcdefg123!@", 0},
		{"too short", "Ab1!", RuleLength},
		{"eleven chars", "Abcdefg123!", RuleLength},
		{"no uppercase", "abcdefg123!@", RuleUppercase},
		{"no digit", "Abcdefghij!@", RuleDigit},
		{"no special", "Abcdefg12345", RuleSpecial},
		{"other punctuation is not special", "Abcdefg1234-", RuleSpecial},
		{"length checked first", "abc", RuleLength},
		{"uppercase before digit", "abcdefghijk!", RuleUppercase},
		{"non-ascii uppercase does not count", "Ébcdefg123!@x", RuleUppercase},
		{"multibyte counted as runes", "ÄÖÜäöü1!Aaaa", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if tc.rule == 0 {
				if err != nil {
					t.Fatalf("expected %q to pass, got %v", tc.password, err)
				}
				return
			}
			var pv *PolicyViolation
			if !errors.As(err, &pv) {
				t.Fatalf("expected policy violation, got %v", err)
			}
			if pv.Rule != tc.rule {
				t.Fatalf("expected rule %d, got %d (%v)", tc.rule, pv.Rule, err)
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("violation should match ErrInvalidInput")
			}
		})
	}
}

func TestValidatePasswordIsDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if err := ValidatePassword("abcdefghijkl"); err == nil || err.Error() != ruleMessages[RuleUppercase] {
			t.Fatalf("unexpected result: %v", err)
		}
	}
}
