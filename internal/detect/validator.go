package detect

import (
	"fmt"
	"regexp"
)

// Validator rejects OCR reads whose normalized text does not match any
// known plate-format pattern for the configured region set
type Validator struct {
	patterns []*regexp.Regexp
}

// Pattern sets by region. "generic" matches the common latin-alphanumeric
// formats; regional sets narrow it down further.
var patternSets = map[string][]string{
	"generic": {
		`^[A-Z]{2,3}[0-9]{3,4}$`, // AB1234 or ABC1234
		`^[0-9]{3}[A-Z]{3}$`,     // 123ABC
		`^[A-Z0-9]{5,8}$`,        // Generic alphanumeric
	},
	"us": {
		`^[A-Z]{3}[0-9]{3,4}$`,
		`^[0-9][A-Z]{3}[0-9]{3}$`,
		`^[0-9]{3}[A-Z]{3}$`,
	},
	"eu": {
		`^[A-Z]{2}[0-9]{2}[A-Z]{3}$`,    // UK current format
		`^[A-Z]{1,3}[0-9]{1,4}$`,        // DE/FR style short
		`^[A-Z]{2}[0-9]{3}[A-Z]{2}$`,    // FR SIV
		`^[A-Z]{1,2}[0-9]{1,4}[A-Z]{1,2}$`,
	},
}

// NewValidator builds a validator for the named pattern set. "none"
// disables format validation and returns nil.
func NewValidator(ruleset string) (*Validator, error) {
	if ruleset == "" || ruleset == "none" {
		return nil, nil
	}

	raw, ok := patternSets[ruleset]
	if !ok {
		return nil, fmt.Errorf("unknown plate pattern set %q", ruleset)
	}

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, p := range raw {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	return &Validator{patterns: patterns}, nil
}

// Validate reports whether text plausibly is a license plate. Text must
// already be normalized (upper-case alphanumerics only).
func (v *Validator) Validate(text string) bool {
	if len(text) < 2 || len(text) > 10 {
		return false
	}

	hasLetter, hasDigit := false, false
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	// A plate needs at least one digit
	if !hasDigit {
		return false
	}

	for _, p := range v.patterns {
		if p.MatchString(text) {
			return true
		}
	}

	// Mixed letters and digits is acceptable even off-pattern
	return hasLetter && hasDigit
}
