package fusewire

import "fmt"

// Opcode identifies which filesystem operation a FUSE request represents.
// The value set is fixed by the kernel ABI (enum fuse_opcode).
type Opcode uint32

// FUSE operation codes from include/uapi/linux/fuse.h.
const (
	OpLookup      Opcode = 1
	OpForget      Opcode = 2 // no reply
	OpGetattr     Opcode = 3
	OpSetattr     Opcode = 4
	OpReadlink    Opcode = 5
	OpSymlink     Opcode = 6
	OpMknod       Opcode = 8
	OpMkdir       Opcode = 9
	OpUnlink      Opcode = 10
	OpRmdir       Opcode = 11
	OpRename      Opcode = 12
	OpLink        Opcode = 13
	OpOpen        Opcode = 14
	OpRead        Opcode = 15
	OpWrite       Opcode = 16
	OpStatfs      Opcode = 17
	OpRelease     Opcode = 18
	OpFsync       Opcode = 20
	OpSetxattr    Opcode = 21
	OpGetxattr    Opcode = 22
	OpListxattr   Opcode = 23
	OpRemovexattr Opcode = 24
	OpFlush       Opcode = 25
	OpInit        Opcode = 26
	OpOpendir     Opcode = 27
	OpReaddir     Opcode = 28
	OpReleasedir  Opcode = 29
	OpFsyncdir    Opcode = 30
	OpGetlk       Opcode = 31
	OpSetlk       Opcode = 32
	OpSetlkw      Opcode = 33
	OpAccess      Opcode = 34
	OpCreate      Opcode = 35
	OpInterrupt   Opcode = 36
	OpBmap        Opcode = 37
	OpDestroy     Opcode = 38
	OpIoctl       Opcode = 39
	OpPoll        Opcode = 40
	OpNotifyReply Opcode = 41
	OpBatchForget Opcode = 42 // no reply
	OpFallocate   Opcode = 43
	OpReaddirplus Opcode = 44
	OpRename2     Opcode = 45
	OpLseek       Opcode = 46
)

// opcodeNames maps operation codes to their kernel names.
var opcodeNames = map[Opcode]string{
	OpLookup:      "FUSE_LOOKUP",
	OpForget:      "FUSE_FORGET",
	OpGetattr:     "FUSE_GETATTR",
	OpSetattr:     "FUSE_SETATTR",
	OpReadlink:    "FUSE_READLINK",
	OpSymlink:     "FUSE_SYMLINK",
	OpMknod:       "FUSE_MKNOD",
	OpMkdir:       "FUSE_MKDIR",
	OpUnlink:      "FUSE_UNLINK",
	OpRmdir:       "FUSE_RMDIR",
	OpRename:      "FUSE_RENAME",
	OpLink:        "FUSE_LINK",
	OpOpen:        "FUSE_OPEN",
	OpRead:        "FUSE_READ",
	OpWrite:       "FUSE_WRITE",
	OpStatfs:      "FUSE_STATFS",
	OpRelease:     "FUSE_RELEASE",
	OpFsync:       "FUSE_FSYNC",
	OpSetxattr:    "FUSE_SETXATTR",
	OpGetxattr:    "FUSE_GETXATTR",
	OpListxattr:   "FUSE_LISTXATTR",
	OpRemovexattr: "FUSE_REMOVEXATTR",
	OpFlush:       "FUSE_FLUSH",
	OpInit:        "FUSE_INIT",
	OpOpendir:     "FUSE_OPENDIR",
	OpReaddir:     "FUSE_READDIR",
	OpReleasedir:  "FUSE_RELEASEDIR",
	OpFsyncdir:    "FUSE_FSYNCDIR",
	OpGetlk:       "FUSE_GETLK",
	OpSetlk:       "FUSE_SETLK",
	OpSetlkw:      "FUSE_SETLKW",
	OpAccess:      "FUSE_ACCESS",
	OpCreate:      "FUSE_CREATE",
	OpInterrupt:   "FUSE_INTERRUPT",
	OpBmap:        "FUSE_BMAP",
	OpDestroy:     "FUSE_DESTROY",
	OpIoctl:       "FUSE_IOCTL",
	OpPoll:        "FUSE_POLL",
	OpNotifyReply: "FUSE_NOTIFY_REPLY",
	OpBatchForget: "FUSE_BATCH_FORGET",
	OpFallocate:   "FUSE_FALLOCATE",
	OpReaddirplus: "FUSE_READDIRPLUS",
	OpRename2:     "FUSE_RENAME2",
	OpLseek:       "FUSE_LSEEK",
}

// String returns the kernel name for the opcode.
func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(o))
}

// NoReply reports whether the kernel expects no response for this opcode.
// Writing a response to a no-reply request corrupts the device stream.
func (o Opcode) NoReply() bool {
	return o == OpForget || o == OpBatchForget
}
