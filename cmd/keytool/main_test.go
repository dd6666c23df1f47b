package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/consul-visit-booker/internal/identity"
)

func TestRoundTrip(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-generate"}, "", &out))
	key := strings.TrimSpace(out.String())

	out.Reset()
	require.NoError(t, run([]string{"-encrypt", "s3cret"}, key, &out))
	token := strings.TrimSpace(out.String())
	assert.NotEqual(t, "s3cret", token)

	out.Reset()
	require.NoError(t, run([]string{"-key", key, "-decrypt", token}, "", &out))
	assert.Equal(t, "s3cret\n", out.String())
}

func TestErrors(t *testing.T) {
	key, err := identity.GenerateKey()
	require.NoError(t, err)
	other, err := identity.GenerateKey()
	require.NoError(t, err)

	var out bytes.Buffer
	assert.ErrorIs(t, run(nil, key, &out), errUsage)
	assert.ErrorIs(t, run([]string{"-generate", "-encrypt"}, key, &out), errUsage)
	assert.Error(t, run([]string{"-encrypt"}, key, &out))
	assert.Error(t, run([]string{"-encrypt", "x"}, "", &out))

	token, err := identity.Encrypt("x", key)
	require.NoError(t, err)
	assert.ErrorIs(t, run([]string{"-decrypt", token}, other, &out), identity.ErrInvalidToken)
}
