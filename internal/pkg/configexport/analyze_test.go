package configexport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleExport = `# 2026-01-10 09:30:00 by RouterOS 7.16
# software id = ABCD-1234
/interface ethernet
set [ find default-name=ether1 ] name=wan
/interface bridge
add name=lan
/ip address
add address=192.168.88.1/24 interface=lan
/ip firewall filter
add chain=input action=accept connection-state=established,related
/ip route
add dst-address=0.0.0.0/0 gateway=10.0.0.1
`

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum([]byte(sampleExport))
	b := Checksum([]byte(sampleExport))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestChecksumDiffersOnContent(t *testing.T) {
	a := Checksum([]byte(sampleExport))
	b := Checksum([]byte(sampleExport + "\n"))
	assert.NotEqual(t, a, b)
}

func TestSummarizeCountsSections(t *testing.T) {
	summary := Summarize(sampleExport)

	assert.Equal(t, 2, summary["interfaces"])
	assert.Equal(t, 1, summary["ip_addresses"])
	assert.Equal(t, 1, summary["firewall_rules"])
	assert.Equal(t, 1, summary["routes"])
	assert.Equal(t, 0, summary["nat_rules"])
	assert.Equal(t, 0, summary["dhcp_servers"])
}

func TestSummarizeAllKeysPresent(t *testing.T) {
	summary := Summarize("")
	for _, s := range sectionMarkers {
		count, ok := summary[s.Key]
		assert.True(t, ok, "missing key %s", s.Key)
		assert.Equal(t, 0, count)
	}
}

func TestExtractVersionFromHeader(t *testing.T) {
	assert.Equal(t, "7.16", ExtractVersion(sampleExport))
}

func TestExtractVersionSoftwareIDFallback(t *testing.T) {
	content := "# software id = ABCD-1234\n/interface ethernet\n"
	assert.Equal(t, "ABCD-1234", ExtractVersion(content))
}

func TestExtractVersionAbsent(t *testing.T) {
	assert.Equal(t, "", ExtractVersion("/interface ethernet\n"))
}
