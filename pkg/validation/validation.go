package validation

import (
	"net"
	"regexp"
	"strings"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,62}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62}[a-zA-Z0-9])?)*$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(strings.ToLower(email))
	return emailRegex.MatchString(email)
}

// ValidateHost accepts an IP address or a hostname
func ValidateHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return hostnameRegex.MatchString(host)
}

// ValidatePort validates a TCP port number
func ValidatePort(port int) bool {
	return port > 0 && port <= 65535
}

// ValidatePassword enforces a minimum password length for operator accounts
func ValidatePassword(password string) bool {
	return len(password) >= 8
}
