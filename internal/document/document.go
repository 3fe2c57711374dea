package document

import (
	"strings"
	"sync"
	"unicode/utf8"

	"typstd/internal/fingerprint"
)

// Position is a location in a document, with the character offset counted
// in UTF-16 code units as mandated by the protocol.
type Position struct {
	Line      uint32
	Character uint32
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position
	End   Position
}

// Edit replaces the text inside Range with Text. A nil Range replaces the
// whole document.
type Edit struct {
	Range *Range
	Text  string
}

// Snapshot is an immutable view of a document at one version. Snapshots
// are safe to share across goroutines.
type Snapshot struct {
	Path        string
	Text        string
	Version     int32
	Fingerprint fingerprint.Fingerprint
}

// Document holds the live text of one open file. All access goes through
// its own lock so edits to different documents proceed independently.
type Document struct {
	mu      sync.RWMutex
	path    string
	text    string
	version int32
	fp      fingerprint.Fingerprint
}

func newDocument(path, text string, version int32) *Document {
	return &Document{
		path:    path,
		text:    text,
		version: version,
		fp:      fingerprint.OfString(text),
	}
}

func (d *Document) snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{
		Path:        d.path,
		Text:        d.text,
		Version:     d.version,
		Fingerprint: d.fp,
	}
}

// applyEdits applies the edits in order and rehashes the result. The
// version must immediately follow the stored one; otherwise nothing is
// mutated and ErrStaleEdit is returned.
func (d *Document) applyEdits(version int32, edits []Edit) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if version != d.version+1 {
		return ErrStaleEdit
	}

	text := d.text
	for _, edit := range edits {
		if edit.Range == nil {
			text = edit.Text
			continue
		}
		start := offsetAt(text, edit.Range.Start)
		end := offsetAt(text, edit.Range.End)
		if end < start {
			start, end = end, start
		}
		text = text[:start] + edit.Text + text[end:]
	}

	d.text = text
	d.version = version
	d.fp = fingerprint.OfString(text)
	return nil
}

// offsetAt converts a protocol position to a byte offset. Positions past
// the end of a line or of the document clamp to the nearest valid offset.
func offsetAt(text string, pos Position) int {
	offset := 0
	for line := uint32(0); line < pos.Line; line++ {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
	}

	var col uint32
	for offset < len(text) && col < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if r == '\n' {
			break
		}
		offset += size
		if r > 0xFFFF {
			col += 2
		} else {
			col++
		}
	}
	return offset
}

// OffsetAt exposes position conversion for callers that need to map
// protocol positions into snapshot text.
func OffsetAt(text string, pos Position) int {
	return offsetAt(text, pos)
}

// PositionAt converts a byte offset back to a protocol position.
func PositionAt(text string, offset int) Position {
	if offset > len(text) {
		offset = len(text)
	}
	var pos Position
	for i := 0; i < offset; {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '\n' {
			pos.Line++
			pos.Character = 0
		} else if r > 0xFFFF {
			pos.Character += 2
		} else {
			pos.Character++
		}
		i += size
	}
	return pos
}
