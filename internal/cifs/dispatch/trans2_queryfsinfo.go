package dispatch

import (
	"encoding/binary"
	"syscall"

	"github.com/opencifsd/cifsd/internal/cifs/wire"
	"github.com/opencifsd/cifsd/internal/cifserr"
)

// cifsUnixCapabilities is the CIFS-Unix-Extensions capability bitmask
// this server advertises through SMB_QUERY_CIFS_UNIX_INFO and accepts
// (read-only) through SMB_SET_CIFS_UNIX_INFO: POSIX ACLs, POSIX
// pathnames, and fcntl byte-range locks, matching the surface the
// query/set information levels in this package actually implement.
const cifsUnixCapabilities uint64 = capFcntlLocks | capPosixACL | capPosixPathnames

const (
	capFcntlLocks      uint64 = 1 << 2
	capPosixACL        uint64 = 1 << 4
	capPosixPathnames  uint64 = 1 << 5
)

// handleQueryFSInformation implements TRANS2_QUERY_FS_INFORMATION,
// parameter block InformationLevel(2).
func handleQueryFSInformation(c *Conn, req *request) (*wire.Body, error) {
	data := req.body.Bytes
	if len(data) < 2 {
		return nil, cifserr.Protocol("QUERY_FS_INFORMATION parameter block too short", nil)
	}
	level := le16(data, 0)

	_, adapter, err := c.shareAndAdapter(req.hdr.UID, req.hdr.TID)
	if err != nil {
		return nil, err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(adapter.Root(), &stat); err != nil {
		return nil, cifserr.Resource("statfs failed", err)
	}

	switch level {
	case fsInfoSize:
		return trans2Response(make([]byte, 2), encodeFSSizeInfo(&stat)), nil
	case fsInfoAttribute:
		return trans2Response(make([]byte, 2), encodeFSAttributeInfo()), nil
	case fsInfoCifsUnix:
		return trans2Response(make([]byte, 2), encodeCifsUnixInfo()), nil
	case fsInfoPosixFS:
		return trans2Response(make([]byte, 2), encodePosixFSInfo(&stat)), nil
	default:
		return nil, cifserr.Protocol("unsupported query FS information level", nil).With("level", level)
	}
}

const (
	fsInfoSize      uint16 = 0x103 // SMB_QUERY_FS_SIZE_INFO
	fsInfoAttribute uint16 = 0x105 // SMB_QUERY_FS_ATTRIBUTE_INFO
	fsInfoCifsUnix  uint16 = 0x200 // SMB_QUERY_CIFS_UNIX_INFO
	fsInfoPosixFS   uint16 = 0x201 // SMB_QUERY_POSIX_FS_INFO
)

func encodeFSSizeInfo(stat *syscall.Statfs_t) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], stat.Blocks)
	binary.LittleEndian.PutUint64(buf[8:16], stat.Bfree)
	binary.LittleEndian.PutUint32(buf[16:20], 1)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(stat.Bsize))
	return buf
}

func encodeFSAttributeInfo() []byte {
	name := wire.EncodeUTF16LERaw("CIFSD")
	buf := make([]byte, 12+len(name))
	binary.LittleEndian.PutUint32(buf[0:4], 0x1|0x4) // FILE_CASE_SENSITIVE_SEARCH | FILE_UNICODE_ON_DISK
	binary.LittleEndian.PutUint32(buf[4:8], 255)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(name)))
	copy(buf[12:], name)
	return buf
}

func encodeCifsUnixInfo() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint16(buf[0:2], 1) // MajorVersion
	binary.LittleEndian.PutUint16(buf[2:4], 0) // MinorVersion
	binary.LittleEndian.PutUint64(buf[4:12], cifsUnixCapabilities)
	return buf
}

func encodePosixFSInfo(stat *syscall.Statfs_t) []byte {
	buf := make([]byte, 56)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(stat.Bsize))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(stat.Bsize))
	binary.LittleEndian.PutUint64(buf[8:16], stat.Blocks)
	binary.LittleEndian.PutUint64(buf[16:24], stat.Bfree)
	binary.LittleEndian.PutUint64(buf[24:32], stat.Bavail)
	binary.LittleEndian.PutUint64(buf[32:40], stat.Files)
	binary.LittleEndian.PutUint64(buf[40:48], stat.Ffree)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(stat.Type))
	return buf
}
