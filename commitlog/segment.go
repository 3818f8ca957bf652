package commitlog

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// segmentSuffix names every segment file on disk.
const segmentSuffix = ".stdb"

// segment is one open, append-only log file: a header followed by a
// sequence of Encode'd commit records.
type segment struct {
	file        *os.File
	version     FormatVersion
	startOffset uint64 // tx offset of the first commit in this segment
	size        int64  // bytes written so far, including the header
}

// createSegment creates a brand-new, empty segment file at path starting at
// startOffset, and writes its header.
func createSegment(path string, version FormatVersion, startOffset uint64) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "commitlog: create segment")
	}
	hdr := EncodeSegmentHeader(SegmentHeader{Version: version, Algo: ChecksumCRC32C})
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "commitlog: write segment header")
	}
	return &segment{file: f, version: version, startOffset: startOffset, size: HeaderSize}, nil
}

// openSegment opens an existing segment file, reads its header, and scans
// forward to find the last valid commit record — truncating the file at the
// first corrupt or incomplete record it encounters, per the log's
// resume-on-restart contract.
func openSegment(path string, startOffset uint64) (*segment, []Commit, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "commitlog: open segment")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "commitlog: stat segment")
	}
	if info.Size() < HeaderSize {
		f.Close()
		return nil, nil, fmt.Errorf("commitlog: segment %s shorter than header", path)
	}
	hdrBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "commitlog: read segment header")
	}
	hdr, err := DecodeSegmentHeader(hdrBuf)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	body := make([]byte, info.Size()-HeaderSize)
	if _, err := f.ReadAt(body, HeaderSize); err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "commitlog: read segment body")
	}

	var commits []Commit
	off := 0
	for off < len(body) {
		c, n, err := Decode(hdr.Version, body[off:])
		if err != nil {
			// ErrZeroSentinel (clean end) or ErrChecksumMismatch (torn
			// write from a crash mid-append): both mean "stop here, and
			// discard everything from here on" — truncate the file so
			// future appends start cleanly at this boundary.
			break
		}
		commits = append(commits, c)
		off += n
	}

	validSize := int64(HeaderSize + off)
	if validSize != info.Size() {
		if err := f.Truncate(validSize); err != nil {
			f.Close()
			return nil, nil, errors.Wrap(err, "commitlog: truncate torn segment")
		}
	}

	seg := &segment{file: f, version: hdr.Version, startOffset: startOffset, size: validSize}
	return seg, commits, nil
}

// append writes c to the end of the segment and returns the number of bytes
// written. The caller is responsible for durability (fsync/fdatasync);
// append itself only buffers through the os.File write path.
func (s *segment) append(c Commit) (int, error) {
	buf := Encode(s.version, c)
	n, err := s.file.WriteAt(buf, s.size)
	if err != nil {
		return 0, errors.Wrap(err, "commitlog: append commit")
	}
	s.size += int64(n)
	return n, nil
}

// sync flushes the segment's dirty pages to stable storage.
func (s *segment) sync() error {
	return fdatasync(s.file)
}

func (s *segment) close() error {
	return s.file.Close()
}
