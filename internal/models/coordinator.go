package models

import "regexp"

// E.164: leading +, country code, up to 15 digits total.
var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

type Coordinator struct {
	ID       string
	Name     string
	Zone     string
	Phone    string
	BackupID string // empty when no backup is configured; never self
	Active   bool
}
