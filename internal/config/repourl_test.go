package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeRepoURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://github.com/user/repo.git", "github.com/user/repo"},
		{"http://github.com/user/repo", "github.com/user/repo"},
		{"git@github.com:user/repo.git", "github.com/user/repo"},
		{"ssh://git@github.com/user/repo.git", "github.com/user/repo"},
		{"github.com/user/repo", "github.com/user/repo"},
		{"  git@gitlab.com:group/project.git\n", "gitlab.com/group/project"},
		{"https://github.com/user/repo/", "github.com/user/repo"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizeRepoURL(tc.in), "input %q", tc.in)
	}
}
