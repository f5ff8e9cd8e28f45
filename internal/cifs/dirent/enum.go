package dirent

import "github.com/opencifsd/cifsd/internal/cifserr"

// RawEntry is a single filler-supplied candidate name before it has
// been re-stat'd and serialized.
type RawEntry struct {
	Name string
}

// DirFile is the subset of an open directory handle emit_next_batch
// needs: the owned page buffer and its two cursors.
type DirFile struct {
	buffer       []RawEntry
	used         int // valid entries in buffer
	direntOffset int // consumed entries
}

// Filler refills a DirFile's candidate buffer, returning the raw
// entries it read from the underlying directory. An empty result
// means end-of-directory.
type Filler func() ([]RawEntry, error)

// StatFunc re-stats a candidate name into a full Stat record.
type StatFunc func(name string) (*Stat, error)

// EmitNextBatch serializes as many matching entries as fit in maxBytes
// into a single contiguous, 8-byte-aligned buffer, per spec.md §4.7's
// four-step algorithm. It returns the bytes written, the count of
// entries emitted, and whether the enumeration has ended.
func EmitNextBatch(f *DirFile, fill Filler, stat StatFunc, level InfoLevel, pattern string, maxBytes int) (data []byte, entriesWritten int, ended bool, err error) {
	prevRecordStart := -1

	for {
		if f.direntOffset == f.used {
			entries, ferr := fill()
			if ferr != nil {
				return nil, 0, false, ferr
			}
			if len(entries) == 0 {
				return data, entriesWritten, true, nil
			}
			f.buffer = entries
			f.used = len(entries)
			f.direntOffset = 0
		}

		for f.direntOffset < f.used {
			candidate := f.buffer[f.direntOffset]

			if !MatchesPattern(candidate.Name, pattern) {
				f.direntOffset++
				continue
			}

			st, serr := stat(candidate.Name)
			if serr != nil {
				if cifserr.Is(serr, cifserr.KindNotFound) {
					// Raced with a concurrent delete; skip and continue.
					f.direntOffset++
					continue
				}
				return nil, 0, false, serr
			}

			record := EncodeRecord(level, st, 0)
			if len(data)+len(record) > maxBytes {
				// Does not fit: leave direntOffset pointing at this
				// entry so the next FIND_NEXT resumes here.
				return data, entriesWritten, false, nil
			}

			if prevRecordStart >= 0 {
				patchNextEntryOffset(data, prevRecordStart, len(data)-prevRecordStart)
			}
			prevRecordStart = len(data)
			data = append(data, record...)
			entriesWritten++
			f.direntOffset++
		}
	}
}

// patchNextEntryOffset overwrites the NextEntryOffset field (the
// record's first 4 bytes, little-endian) at recordStart with offset.
func patchNextEntryOffset(data []byte, recordStart, offset int) {
	data[recordStart] = byte(offset)
	data[recordStart+1] = byte(offset >> 8)
	data[recordStart+2] = byte(offset >> 16)
	data[recordStart+3] = byte(offset >> 24)
}
