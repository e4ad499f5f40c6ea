package gateway

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattjoyce/vessel/internal/lock"
	"github.com/mattjoyce/vessel/internal/storage"
)

// ErrNoPort is returned when every port in range is claimed or bound.
var ErrNoPort = errors.New("no available port")

// PortClaim holds a port for the life of the session.
type PortClaim struct {
	Port int
	lock *lock.PIDLock
}

// Release gives the port back.
func (c *PortClaim) Release() error {
	if c == nil {
		return nil
	}
	return c.lock.Release()
}

// NextAvailablePort scans upward from base for a port that no live session
// has claimed and that can be bound on loopback. Claims are flock-held pid
// files in claimsDir, so a crashed session frees its port.
func NextAvailablePort(claimsDir string, base, span int) (*PortClaim, error) {
	if claimsDir == "" {
		return nil, fmt.Errorf("port claims directory is empty")
	}
	if span <= 0 {
		span = 1
	}
	if err := storage.RequireLocalFilesystem(claimsDir, "port claims"); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(claimsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create port claims directory: %w", err)
	}

	for port := base; port < base+span; port++ {
		l, err := lock.AcquirePIDLock(claimPath(claimsDir, port))
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				continue
			}
			return nil, err
		}
		if !bindable(port) {
			_ = l.Release()
			continue
		}
		return &PortClaim{Port: port, lock: l}, nil
	}
	return nil, fmt.Errorf("%w in [%d, %d)", ErrNoPort, base, base+span)
}

// ClaimHolder returns the pid recorded for a claimed port.
func ClaimHolder(claimsDir string, port int) (int, error) {
	return lock.HolderPID(claimPath(claimsDir, port))
}

func claimPath(dir string, port int) string {
	return filepath.Join(dir, "port-"+strconv.Itoa(port)+".lock")
}

func bindable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
