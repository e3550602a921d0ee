//go:build linux

package engine

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/lucho00cuba/fimwatch/internal/store"
)

// platformFingerprint extracts the owner, inode, device, and timestamp
// fields a Unix stat structure carries beyond what os.FileInfo exposes
// directly.
func platformFingerprint(info os.FileInfo) (store.Fingerprint, error) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return store.Fingerprint{}, fmt.Errorf("engine: unsupported stat_t on this platform")
	}

	return store.Fingerprint{
		UID:   sys.Uid,
		GID:   sys.Gid,
		Inode: uint64(sys.Ino),
		Dev:   uint64(sys.Dev),
		MTime: time.Unix(sys.Mtim.Sec, sys.Mtim.Nsec).UTC().Truncate(time.Second),
		CTime: time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec).UTC().Truncate(time.Second),
		ATime: time.Unix(sys.Atim.Sec, sys.Atim.Nsec).UTC().Truncate(time.Second),
	}, nil
}
