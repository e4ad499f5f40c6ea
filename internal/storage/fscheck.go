package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem type names reported for remote mounts. Locking on these is
// advisory at best.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "nfs4", "smbfs", "smb2", "webdav", "fuse.sshfs"}

// NetworkFilesystemError reports a state path that sits on a remote mount.
type NetworkFilesystemError struct {
	Purpose string // "journal", "port claims"
	Path    string
	FSType  string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("%s path %q is on network filesystem %q; file locking needs a local disk",
		e.Purpose, e.Path, e.FSType)
}

// RequireLocalFilesystem fails with *NetworkFilesystemError when path, or
// the closest ancestor that exists, is on a network filesystem. The journal
// and the port claims both depend on flock.
func RequireLocalFilesystem(path, purpose string) error {
	return requireLocalFilesystemWithDetector(path, purpose, detectFilesystemType)
}

func requireLocalFilesystemWithDetector(path, purpose string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s path is empty", purpose)
	}
	anchor, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve %s path %q: %w", purpose, path, err)
	}
	fsType, err := detect(anchor)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", anchor, err)
	}
	if isNetworkFilesystem(fsType) {
		return &NetworkFilesystemError{Purpose: purpose, Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists,
// so a journal file or claims dir can be checked before it is created.
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		up := filepath.Dir(dir)
		if up == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = up
	}
}

func isNetworkFilesystem(fsType string) bool {
	fsType = strings.ToLower(strings.TrimSpace(fsType))
	for _, remote := range remoteFilesystems {
		if fsType == remote {
			return true
		}
	}
	return false
}
