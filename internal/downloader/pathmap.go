package downloader

import (
	"path"
	"path/filepath"
	"strings"

	"shelfarr/internal/config"
)

// PathMapping translates between the orchestrator's filesystem view (local)
// and the download client's (remote).
type PathMapping struct {
	Remote string
	Local  string
}

// MappingFromConfig builds a PathMapping from configuration.
func MappingFromConfig(m config.PathMapping) PathMapping {
	return PathMapping{Remote: strings.TrimSpace(m.RemotePath), Local: strings.TrimSpace(m.LocalPath)}
}

// Enabled reports whether both halves are configured.
func (m PathMapping) Enabled() bool {
	return m.Remote != "" && m.Local != ""
}

// ToRemote maps a local path into the client's view. Paths outside the local
// root are returned unchanged.
func (m PathMapping) ToRemote(local string) string {
	if !m.Enabled() || local == "" {
		return local
	}
	rest, ok := cutRoot(filepath.ToSlash(local), filepath.ToSlash(m.Local))
	if !ok {
		return local
	}
	return joinRoot(m.Remote, rest)
}

// ToLocal maps a path reported by the client into the local view. Paths
// outside the remote root are returned unchanged.
func (m PathMapping) ToLocal(remote string) string {
	if !m.Enabled() || remote == "" {
		return remote
	}
	rest, ok := cutRoot(remote, m.Remote)
	if !ok {
		return remote
	}
	return filepath.FromSlash(joinRoot(filepath.ToSlash(m.Local), rest))
}

// cutRoot strips root from p on a path-segment boundary.
func cutRoot(p, root string) (string, bool) {
	root = strings.TrimRight(root, "/\\")
	if root == "" {
		return strings.TrimLeft(p, "/\\"), true
	}
	if p == root {
		return "", true
	}
	if strings.HasPrefix(p, root) {
		rest := p[len(root):]
		if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "\\") {
			return strings.TrimLeft(rest, "/\\"), true
		}
	}
	return "", false
}

func joinRoot(root, rest string) string {
	if rest == "" {
		return root
	}
	sep := "/"
	if strings.Contains(root, "\\") && !strings.Contains(root, "/") {
		sep = "\\"
		rest = strings.ReplaceAll(rest, "/", "\\")
		return strings.TrimRight(root, "\\") + sep + rest
	}
	return path.Join(root, strings.ReplaceAll(rest, "\\", "/"))
}
