// Package configexport analyzes RouterOS configuration export text. All
// functions are pure: no I/O, deterministic for identical input.
package configexport

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// sectionMarkers maps summary keys to the export text markers counted for them.
var sectionMarkers = []struct {
	Key    string
	Marker string
}{
	{"interfaces", "/interface"},
	{"ip_addresses", "/ip address"},
	{"firewall_rules", "/ip firewall filter"},
	{"nat_rules", "/ip firewall nat"},
	{"routes", "/ip route"},
	{"dhcp_servers", "/ip dhcp-server"},
	{"users", "/user"},
	{"scripts", "/system script"},
	{"schedules", "/system scheduler"},
	{"queues", "/queue"},
}

var (
	versionRegex    = regexp.MustCompile(`by RouterOS (\S+)`)
	softwareIDRegex = regexp.MustCompile(`# software id = (\S+)`)
)

// Checksum returns the sha256 hex digest of the content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Summarize counts structural section markers in the export text. Every key
// is present in the result, zero when the marker does not occur.
func Summarize(content string) map[string]int {
	summary := make(map[string]int, len(sectionMarkers))
	for _, s := range sectionMarkers {
		summary[s.Key] = strings.Count(content, s.Marker)
	}
	return summary
}

// ExtractVersion finds the firmware version in the export header, falling
// back to the software id marker. Returns "" when neither matches.
func ExtractVersion(content string) string {
	if m := versionRegex.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	if m := softwareIDRegex.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}
