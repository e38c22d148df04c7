package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/sponsor-access-sync/internal/domain"
)

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("octo-org/private-docs")
	require.NoError(t, err)
	assert.Equal(t, "octo-org", owner)
	assert.Equal(t, "private-docs", name)

	for _, bad := range []string{"", "docs", "/docs", "octo/", "a/b/c"} {
		_, _, err := splitRepo(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewSecret(t *testing.T) {
	a, err := newSecret()
	require.NoError(t, err)
	b, err := newSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestRepoNames(t *testing.T) {
	names := repoNames([]*domain.Repository{
		{OwnerOrOrg: "octo", Name: "r1"},
		{OwnerOrOrg: "acme", Name: "r2"},
	})
	assert.Equal(t, []string{"octo/r1", "acme/r2"}, names)
}

func TestCommandsRegistered(t *testing.T) {
	for _, path := range [][]string{
		{"owner", "register"},
		{"tier", "set"},
		{"tier", "delete"},
		{"repo", "attach"},
		{"repo", "detach"},
		{"queue", "stats"},
		{"webhook", "replay"},
		{"resync"},
		{"audit"},
		{"sweep"},
		{"health"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
