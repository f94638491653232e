package domain

import "regexp"

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// IsE164 reports whether phone is a well-formed E.164 number.
func IsE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}
