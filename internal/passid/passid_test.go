package passid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRegID(t *testing.T) {
	assert.Equal(t, "PZ26-OCP-000231", FormatRegID("PZ26-OCP", 231))
	assert.Equal(t, "PZ26-OCP-000001", FormatRegID("PZ26-OCP", 1))
	assert.Equal(t, "X-1234567", FormatRegID("X", 1234567))
}

func TestParseRegIDRoundTrip(t *testing.T) {
	for _, serial := range []int{1, 9, 231, 999999, 1000000} {
		prefix, got, err := ParseRegID(FormatRegID("PZ26-OCP", serial))
		require.NoError(t, err)
		assert.Equal(t, "PZ26-OCP", prefix)
		assert.Equal(t, serial, got)
	}
}

func TestParseRegIDRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "PZ26", "PZ26-", "-000001", "PZ26-OCP-12", "PZ26-OCP-00a231", "PZ26-OCP-000000", "X-0000001", "PZ26-OCP-0000231", "PZ26-OCP-01000000"} {
		_, _, err := ParseRegID(in)
		assert.ErrorIs(t, err, ErrMalformedRegID, in)
	}
}

func TestDeriveQRText(t *testing.T) {
	assert.Equal(t, "PZ26|PZ26-OCP-000231|a@b.com", DeriveQRText("PZ26-OCP-000231", "a@b.com"))
	assert.Equal(t, "PZ26|PZ26-OCP-000231|a@b.com", DeriveQRText("PZ26-OCP-000231", " A@B.com "))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", NormalizeEmail("  A@B.COM "))
	for _, in := range []string{"  A@B.COM ", "x@y.z", "\tMiXeD@Case.Org\n", ""} {
		once := NormalizeEmail(in)
		assert.Equal(t, once, NormalizeEmail(once))
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+91 98765-43210", "+919876543210", true},
		{"(020) 555 0199", "0205550199", true},
		{"98765a3210", "98765a3210", false},
		{"++9198765", "++9198765", false},
		{"123", "123", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
	}
}
