//go:build linux

package fusesim

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mount opens /dev/fuse, mounts a FUSE filesystem at dir backed by the
// returned Server, and starts its responder. The kernel's FUSE_INIT
// handshake is answered in the background; the mount is usable as soon as
// Mount returns.
//
// Direct mounting requires CAP_SYS_ADMIN.
func Mount(dir string, opts Options) (*Server, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mount point: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("mount point is not a directory: %s", dir)
	}

	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/fuse: %w", err)
	}

	data := fmt.Sprintf(
		"fd=%d,rootmode=%o,user_id=%d,group_id=%d",
		dev.Fd(),
		0o40755, // root directory, 0755
		os.Getuid(),
		os.Getgid(),
	)

	err = unix.Mount("kernwire", dir, "fuse", unix.MS_NOSUID|unix.MS_NODEV, data)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("mount fuse at %s: %w", dir, err)
	}

	s := NewServer(dev, opts)
	s.dir = dir
	s.Start()

	return s, nil
}

// Unmount detaches the filesystem and stops the responder. The lazy
// detach keeps Unmount from blocking on in-flight requests; closing the
// device ends them.
func (s *Server) Unmount() error {
	var umountErr error
	if s.dir != "" {
		if err := unix.Unmount(s.dir, unix.MNT_DETACH); err != nil {
			umountErr = fmt.Errorf("unmount %s: %w", s.dir, err)
		}
	}

	if err := s.Close(); err != nil {
		return err
	}
	return umountErr
}
