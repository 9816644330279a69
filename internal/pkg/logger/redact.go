package logger

import (
	"net/mail"
	"strings"
)

// RedactEmail masks an address for safe logging. Display names are dropped:
//
//	"coach@school.org"              -> "co***@school.org"
//	"Coach Kim <coach@school.org>"  -> "co***@school.org"
//
// Local parts of two characters or fewer are fully masked.
func RedactEmail(email string) string {
	if strings.ContainsAny(email, "<\"") {
		if a, err := mail.ParseAddress(email); err == nil {
			email = a.Address
		}
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 || strings.Count(email, "@") != 1 {
		return "***@***"
	}
	name, host := email[:at], email[at+1:]
	if len(name) > 2 {
		return name[:2] + "***@" + host
	}
	return "***@" + host
}
