package dirent

import (
	"encoding/binary"
	"time"

	"github.com/opencifsd/cifsd/internal/cifs/wire"
)

// InfoLevel selects which FIND_FIRST2/FIND_NEXT2 record layout
// emit_next_batch serializes into the caller's buffer.
type InfoLevel int

const (
	LevelDirectoryInfo InfoLevel = iota
	LevelFullDirectoryInfo
	LevelBothDirectoryInfo
	LevelIDFullDirInfo
	LevelUnixInfo
)

// SMB file-attribute bits this package sets on emitted records.
const (
	AttrReadOnly  uint32 = 0x01
	AttrHidden    uint32 = 0x02
	AttrDirectory uint32 = 0x10
)

// Stat is the subset of a re-stat'd dirent the encoders need. It is
// populated by the caller from the VFS layer (and, for UNIX_INFO, from
// a POSIX stat) before serialization.
type Stat struct {
	Name         string
	UniqueID     uint64
	IsDir        bool
	Hidden       bool
	ReadOnly     bool
	Size         int64
	CreationTime time.Time
	AccessTime   time.Time
	WriteTime    time.Time
	ChangeTime   time.Time

	// UNIX_INFO fields, per the POSIX stat block in spec.md §6.
	UID      uint32
	GID      uint32
	Mode     uint32
	Nlink    uint32
	DevMajor uint32
	DevMinor uint32
}

func (s *Stat) attrs() uint32 {
	var a uint32
	if s.IsDir {
		a |= AttrDirectory
	}
	if s.Hidden {
		a |= AttrHidden
	}
	if s.ReadOnly {
		a |= AttrReadOnly
	}
	return a
}

// align8 rounds n up to the next multiple of 8, the wire alignment
// every directory-info record observes.
func align8(n int) int {
	return (n + 7) &^ 7
}

// EncodeRecord serializes st at the given info level, with
// nextEntryOffset written into the record's NextEntryOffset field (0
// for the last record in a batch). It returns the 8-byte-aligned
// record bytes.
func EncodeRecord(level InfoLevel, st *Stat, nextEntryOffset uint32) []byte {
	switch level {
	case LevelFullDirectoryInfo:
		return encodeFullDirectoryInfo(st, nextEntryOffset)
	case LevelBothDirectoryInfo:
		return encodeBothDirectoryInfo(st, nextEntryOffset)
	case LevelIDFullDirInfo:
		return encodeIDFullDirInfo(st, nextEntryOffset)
	case LevelUnixInfo:
		return encodeUnixInfo(st, nextEntryOffset)
	default:
		return encodeDirectoryInfo(st, nextEntryOffset)
	}
}

// encodeDirectoryInfo builds FILE_DIRECTORY_INFORMATION: the common
// field set every other level builds on top of.
func encodeDirectoryInfo(st *Stat, nextEntryOffset uint32) []byte {
	nameBytes := wire.EncodeUTF16LERaw(st.Name)
	const fixed = 64
	total := align8(fixed + len(nameBytes))
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], nextEntryOffset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(st.UniqueID))
	binary.LittleEndian.PutUint64(buf[8:16], wire.ToFILETIME(st.CreationTime))
	binary.LittleEndian.PutUint64(buf[16:24], wire.ToFILETIME(st.AccessTime))
	binary.LittleEndian.PutUint64(buf[24:32], wire.ToFILETIME(st.WriteTime))
	binary.LittleEndian.PutUint64(buf[32:40], wire.ToFILETIME(st.ChangeTime))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[56:60], st.attrs())
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(nameBytes)))
	copy(buf[64:], nameBytes)
	return buf
}

// encodeFullDirectoryInfo builds FILE_FULL_DIRECTORY_INFORMATION:
// DIRECTORY_INFO plus a 4-byte EaSize field.
func encodeFullDirectoryInfo(st *Stat, nextEntryOffset uint32) []byte {
	nameBytes := wire.EncodeUTF16LERaw(st.Name)
	const fixed = 68
	total := align8(fixed + len(nameBytes))
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], nextEntryOffset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(st.UniqueID))
	binary.LittleEndian.PutUint64(buf[8:16], wire.ToFILETIME(st.CreationTime))
	binary.LittleEndian.PutUint64(buf[16:24], wire.ToFILETIME(st.AccessTime))
	binary.LittleEndian.PutUint64(buf[24:32], wire.ToFILETIME(st.WriteTime))
	binary.LittleEndian.PutUint64(buf[32:40], wire.ToFILETIME(st.ChangeTime))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[56:60], st.attrs())
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(nameBytes)))
	binary.LittleEndian.PutUint32(buf[64:68], 0) // EaSize
	copy(buf[68:], nameBytes)
	return buf
}

// encodeBothDirectoryInfo builds FILE_BOTH_DIRECTORY_INFORMATION:
// FULL_DIRECTORY_INFO plus an 8.3 short-name slot.
func encodeBothDirectoryInfo(st *Stat, nextEntryOffset uint32) []byte {
	nameBytes := wire.EncodeUTF16LERaw(st.Name)
	shortNameBytes := wire.EncodeUTF16LERaw(wire.ShortName8dot3(st.Name))
	if len(shortNameBytes) > 24 {
		shortNameBytes = shortNameBytes[:24]
	}

	const fixed = 94
	total := align8(fixed + len(nameBytes))
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], nextEntryOffset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(st.UniqueID))
	binary.LittleEndian.PutUint64(buf[8:16], wire.ToFILETIME(st.CreationTime))
	binary.LittleEndian.PutUint64(buf[16:24], wire.ToFILETIME(st.AccessTime))
	binary.LittleEndian.PutUint64(buf[24:32], wire.ToFILETIME(st.WriteTime))
	binary.LittleEndian.PutUint64(buf[32:40], wire.ToFILETIME(st.ChangeTime))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[56:60], st.attrs())
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(nameBytes)))
	binary.LittleEndian.PutUint32(buf[64:68], 0) // EaSize
	buf[68] = byte(len(shortNameBytes)) // ShortNameLength
	buf[69] = 0                         // Reserved
	copy(buf[70:94], shortNameBytes)
	copy(buf[94:], nameBytes)
	return buf
}

// encodeIDFullDirInfo builds FILE_ID_FULL_DIR_INFORMATION:
// FULL_DIRECTORY_INFO plus a 64-bit unique FileId.
func encodeIDFullDirInfo(st *Stat, nextEntryOffset uint32) []byte {
	nameBytes := wire.EncodeUTF16LERaw(st.Name)
	const fixed = 80
	total := align8(fixed + len(nameBytes))
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], nextEntryOffset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(st.UniqueID))
	binary.LittleEndian.PutUint64(buf[8:16], wire.ToFILETIME(st.CreationTime))
	binary.LittleEndian.PutUint64(buf[16:24], wire.ToFILETIME(st.AccessTime))
	binary.LittleEndian.PutUint64(buf[24:32], wire.ToFILETIME(st.WriteTime))
	binary.LittleEndian.PutUint64(buf[32:40], wire.ToFILETIME(st.ChangeTime))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[56:60], st.attrs())
	binary.LittleEndian.PutUint32(buf[60:64], uint32(len(nameBytes)))
	binary.LittleEndian.PutUint32(buf[64:68], 0) // EaSize
	binary.LittleEndian.PutUint16(buf[68:70], 0) // Reserved
	binary.LittleEndian.PutUint64(buf[72:80], st.UniqueID)
	copy(buf[80:], nameBytes)
	return buf
}

// encodeUnixInfo builds SMB_FIND_FILE_UNIX_INFO2: DIRECTORY_INFO's
// common fields plus the POSIX stat block spec.md §6 describes.
func encodeUnixInfo(st *Stat, nextEntryOffset uint32) []byte {
	nameBytes := wire.EncodeUTF16LERaw(st.Name)
	const fixed = 96
	total := align8(fixed + len(nameBytes))
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], nextEntryOffset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(st.UniqueID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(st.Size)*512)
	binary.LittleEndian.PutUint64(buf[24:32], wire.ToFILETIME(st.ChangeTime))
	binary.LittleEndian.PutUint64(buf[32:40], wire.ToFILETIME(st.AccessTime))
	binary.LittleEndian.PutUint64(buf[40:48], wire.ToFILETIME(st.WriteTime))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(st.UID))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(st.GID))
	binary.LittleEndian.PutUint32(buf[64:68], unixFileType(st))
	binary.LittleEndian.PutUint64(buf[68:76], 0) // device major/minor: not reported, always 0
	binary.LittleEndian.PutUint64(buf[76:84], st.UniqueID)
	binary.LittleEndian.PutUint64(buf[84:92], uint64(st.Mode))
	binary.LittleEndian.PutUint32(buf[92:96], st.Nlink)
	copy(buf[96:], nameBytes)
	return buf
}

func unixFileType(st *Stat) uint32 {
	if st.IsDir {
		return 2 // SMB_UNIX_DIR
	}
	return 0 // SMB_UNIX_FILE
}
