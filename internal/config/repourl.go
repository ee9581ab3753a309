package config

import "strings"

// NormalizeRepoURL reduces any of the usual git remote forms to the
// canonical host/owner/name key the registry and backend use:
//
//	https://github.com/user/repo.git -> github.com/user/repo
//	git@github.com:user/repo.git     -> github.com/user/repo
//	ssh://git@github.com/user/repo   -> github.com/user/repo
func NormalizeRepoURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}

	for _, prefix := range []string{"https://", "http://", "ssh://git@", "git@"} {
		if strings.HasPrefix(url, prefix) {
			url = url[len(prefix):]
			break
		}
	}

	// git@host:owner/name style leaves a colon where the path starts.
	if idx := strings.Index(url, ":"); idx >= 0 && !strings.Contains(url, "://") {
		url = url[:idx] + "/" + url[idx+1:]
	}

	url = strings.TrimSuffix(url, ".git")
	url = strings.TrimSuffix(url, "/")
	return url
}
