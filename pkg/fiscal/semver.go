package fiscal

import "regexp"

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// ValidateSemver exige exactamente MAJOR.MINOR.PATCH numéricos (sin prefijo "v" ni sufijos).
func ValidateSemver(s string) bool {
	return semverRe.MatchString(s)
}
