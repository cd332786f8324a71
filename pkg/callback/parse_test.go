package callback

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL_CustomScheme(t *testing.T) {
	d, err := ParseURL("blockforge://auth/callback?code=M.C07_abc&state=s123")
	require.NoError(t, err)
	assert.Equal(t, "M.C07_abc", d.Code)
	assert.Equal(t, "s123", d.State)
	assert.False(t, d.Failed())
}

func TestParseURL_LoopbackRedirect(t *testing.T) {
	d, err := ParseURL("http://localhost:23456/auth/callback?code=abc&state=xyz")
	require.NoError(t, err)
	assert.Equal(t, "abc", d.Code)
	assert.Equal(t, "xyz", d.State)
}

func TestParseURL_ProviderError(t *testing.T) {
	d, err := ParseURL("blockforge://auth/callback?error=access_denied&error_description=User+cancelled")
	require.NoError(t, err)
	assert.True(t, d.Failed())
	assert.Equal(t, "User cancelled", d.Reason())
}

func TestParseURL_NoCodeNoError(t *testing.T) {
	_, err := ParseURL("blockforge://auth/callback?state=only")
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestIsScheme(t *testing.T) {
	assert.True(t, IsScheme("blockforge://auth/callback?code=x", "blockforge"))
	assert.False(t, IsScheme("https://example.com", "blockforge"))
}

func TestExtractCode_FromURL(t *testing.T) {
	code, err := ExtractCode("  blockforge://auth/callback?code=M.C07_x%2By&state=s  ")
	require.NoError(t, err)
	assert.Equal(t, "M.C07_x+y", code)
}

func TestExtractCode_BareProviderCode(t *testing.T) {
	code, err := ExtractCode("M.C07_BAY.2.rawcode")
	require.NoError(t, err)
	assert.Equal(t, "M.C07_BAY.2.rawcode", code)
}

func TestExtractCode_LongOpaqueToken(t *testing.T) {
	long := strings.Repeat("a", 120)
	code, err := ExtractCode(long)
	require.NoError(t, err)
	assert.Equal(t, long, code)
}

func TestExtractCode_RejectsShortText(t *testing.T) {
	_, err := ExtractCode("not a code")
	assert.ErrorIs(t, err, ErrNoCode)

	_, err = ExtractCode("")
	assert.ErrorIs(t, err, ErrNoCode)
}
