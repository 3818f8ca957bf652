package commitlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/tidwall/btree"
)

// DefaultMaxSegmentSize is the rotation threshold: once the active
// segment's size meets or exceeds this, the next append starts a fresh one.
const DefaultMaxSegmentSize = 1 << 20 // 1 MiB

// segmentRef is a (startOffset, fileName) pair stored in the ordered
// directory index.
type segmentRef struct {
	startOffset uint64
	name        string
}

func segmentRefLess(a, b segmentRef) bool { return a.startOffset < b.startOffset }

// Log is a directory of segment files holding the durable, checksummed
// history of committed transactions. Exactly one writer appends at a time,
// serialized by mu; readers may iterate concurrently with the writer since
// segments other than the active one are never mutated.
type Log struct {
	mu      sync.Mutex
	dir     string
	index   *btree.BTreeG[segmentRef]
	active  *segment
	nextOff uint64
	maxSize int64
}

// Open opens (or creates, if dir is empty) a commit log rooted at dir,
// indexing every existing segment by name and scanning only the last one,
// which becomes the active segment and is resumed exactly where its valid
// commits end. Earlier segments are not read or validated here.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("commitlog: mkdir %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("commitlog: read dir %s: %w", dir, err)
	}

	l := &Log{
		dir:     dir,
		index:   btree.NewBTreeG(segmentRefLess),
		maxSize: DefaultMaxSegmentSize,
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != segmentSuffix {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		startOffset, err := parseSegmentName(name)
		if err != nil {
			return nil, err
		}
		l.index.Set(segmentRef{startOffset: startOffset, name: name})
	}

	if len(names) == 0 {
		seg, err := createSegment(filepath.Join(dir, segmentName(0)), CurrentFormatVersion, 0)
		if err != nil {
			return nil, err
		}
		l.index.Set(segmentRef{startOffset: 0, name: segmentName(0)})
		l.active = seg
		l.nextOff = 0
		return l, nil
	}

	last := names[len(names)-1]
	lastStart, _ := parseSegmentName(last)
	seg, commits, err := openSegment(filepath.Join(dir, last), lastStart)
	if err != nil {
		return nil, err
	}
	l.active = seg
	l.nextOff = lastStart
	for _, c := range commits {
		l.nextOff = c.MinTxOffset + uint64(c.NumTx)
	}
	return l, nil
}

// SetMaxSegmentSize overrides the rotation threshold, checked against the
// active segment from the next Append on. n <= 0 is ignored. Safe to call
// concurrently with Append.
func (l *Log) SetMaxSegmentSize(n int64) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = n
}

// NextTxOffset returns the tx offset the next appended commit must start
// at, i.e. one past the last durable transaction.
func (l *Log) NextTxOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextOff
}

// Append assigns c.MinTxOffset = NextTxOffset() and writes it to the
// active segment, rotating to a new segment first if the active one has
// reached maxSize. It does not itself fsync; callers needing a durability
// guarantee must call Sync afterward (the durability worker batches many
// Appends per Sync).
func (l *Log) Append(c Commit) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active.size >= l.maxSize {
		if err := l.rotateLocked(l.nextOff); err != nil {
			return 0, err
		}
	}

	c.MinTxOffset = l.nextOff
	if _, err := l.active.append(c); err != nil {
		return 0, err
	}
	l.nextOff += uint64(c.NumTx)
	return c.MinTxOffset, nil
}

func (l *Log) rotateLocked(startOffset uint64) error {
	if err := l.active.sync(); err != nil {
		return err
	}
	if err := l.active.close(); err != nil {
		return err
	}
	name := segmentName(startOffset)
	seg, err := createSegment(filepath.Join(l.dir, name), CurrentFormatVersion, startOffset)
	if err != nil {
		return err
	}
	l.index.Set(segmentRef{startOffset: startOffset, name: name})
	l.active = seg
	return nil
}

// Sync flushes the active segment to stable storage and returns
// NextTxOffset at the time of the call: every transaction below it is now
// durable.
func (l *Log) Sync() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.active.sync(); err != nil {
		return 0, err
	}
	return l.nextOff, nil
}

// Close syncs and closes the active segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.active.sync(); err != nil {
		return err
	}
	return l.active.close()
}

// Iter calls yield for every commit at or after fromOffset, across as many
// segments as necessary, stopping early if yield returns false. Segments
// before the one containing fromOffset are skipped entirely without being
// opened.
func (l *Log) Iter(fromOffset uint64, yield func(Commit) bool) error {
	l.mu.Lock()
	var refs []segmentRef
	l.index.Scan(func(r segmentRef) bool {
		refs = append(refs, r)
		return true
	})
	l.mu.Unlock()

	startIdx := sort.Search(len(refs), func(i int) bool {
		if i+1 == len(refs) {
			return true
		}
		return refs[i+1].startOffset > fromOffset
	})

	for i := startIdx; i < len(refs); i++ {
		seg, commits, err := openSegment(filepath.Join(l.dir, refs[i].name), refs[i].startOffset)
		if err != nil {
			return err
		}
		seg.close()
		for _, c := range commits {
			if c.MinTxOffset+uint64(c.NumTx) <= fromOffset {
				continue
			}
			if !yield(c) {
				return nil
			}
		}
	}
	return nil
}

func segmentName(startOffset uint64) string {
	return fmt.Sprintf("%016x%s", startOffset, segmentSuffix)
}

func parseSegmentName(name string) (uint64, error) {
	base := name[:len(name)-len(segmentSuffix)]
	v, err := strconv.ParseUint(base, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("commitlog: bad segment file name %q: %w", name, err)
	}
	return v, nil
}
