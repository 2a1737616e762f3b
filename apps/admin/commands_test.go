package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	rc := NewRootCommand(&bytes.Buffer{})

	for _, path := range [][]string{
		{"apikey", "create"},
		{"apikey", "revoke"},
		{"group", "create"},
		{"group", "grant"},
		{"group", "revoke"},
	} {
		cmd, rest, err := rc.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest)
		assert.Equal(t, path[1], cmd.Name())
	}

	grant, _, err := rc.Find([]string{"group", "grant"})
	require.NoError(t, err)
	role := grant.Flags().Lookup("role")
	require.NotNil(t, role)
	assert.Equal(t, "researcher", role.DefValue)
}

func TestCommandsRejectMissingArgs(t *testing.T) {
	for _, args := range [][]string{
		{"apikey", "create"},
		{"apikey", "revoke", "alice"},
		{"group", "create"},
		{"group", "grant", "study"},
	} {
		rc := NewRootCommand(&bytes.Buffer{})
		rc.SetArgs(args)
		rc.SetOut(&bytes.Buffer{})
		rc.SetErr(&bytes.Buffer{})
		err := rc.Execute()
		assert.Error(t, err, args)
	}
}
