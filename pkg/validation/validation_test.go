package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHost(t *testing.T) {
	assert.True(t, ValidateHost("192.168.88.1"))
	assert.True(t, ValidateHost("2001:db8::1"))
	assert.True(t, ValidateHost("router-01.branch.example.com"))
	assert.True(t, ValidateHost("core1"))

	assert.False(t, ValidateHost(""))
	assert.False(t, ValidateHost("   "))
	assert.False(t, ValidateHost("-leading-dash.example.com"))
	assert.False(t, ValidateHost("has space.example.com"))
}

func TestValidatePort(t *testing.T) {
	assert.True(t, ValidatePort(22))
	assert.True(t, ValidatePort(65535))
	assert.False(t, ValidatePort(0))
	assert.False(t, ValidatePort(-1))
	assert.False(t, ValidatePort(65536))
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("ops@example.com"))
	assert.True(t, ValidateEmail("  Ops@Example.COM  "))
	assert.False(t, ValidateEmail("not-an-email"))
	assert.False(t, ValidateEmail("@example.com"))
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, ValidatePassword("longenough"))
	assert.False(t, ValidatePassword("short"))
}
