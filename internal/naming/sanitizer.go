// Package naming turns untrusted upload filenames into storage keys that are
// safe to use as a single path segment or an object-store key.
package naming

import (
	"encoding/hex"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

const (
	// MaxNameBytes bounds the sanitized part of a key, excluding the token.
	MaxNameBytes = 200

	// maxExtBytes is the longest extension preserved when truncating.
	maxExtBytes = 16

	// SuffixLen is the number of random hex characters in every token.
	SuffixLen = 12
)

// DefaultScripts lists the Unicode scripts permitted in filenames in
// addition to ASCII letters and digits.
var DefaultScripts = []string{"Hangul"}

// Sanitizer produces collision-resistant storage keys of the form
// "<token>-<name>". The token is "<millis>-<random hex>": the millisecond
// timestamp is strictly increasing within one Sanitizer, and the random part
// keeps keys from separate processes or restarts apart.
type Sanitizer struct {
	scripts []*unicode.RangeTable
	now     func() time.Time
	random  func() string
	last    atomic.Int64
}

// NewSanitizer returns a Sanitizer that additionally keeps letters from the
// named Unicode scripts (for example "Hangul", "Han", "Cyrillic").
func NewSanitizer(scripts ...string) (*Sanitizer, error) {
	tables := make([]*unicode.RangeTable, 0, len(scripts))
	for _, name := range scripts {
		table, ok := unicode.Scripts[name]
		if !ok {
			return nil, fmt.Errorf("unknown unicode script %q", name)
		}
		tables = append(tables, table)
	}

	return &Sanitizer{scripts: tables, now: time.Now, random: randomSuffix}, nil
}

// Key returns a fresh storage key for the given original filename. It never
// returns an empty string.
func (s *Sanitizer) Key(original string) string {
	token := strconv.FormatInt(s.token(), 10) + "-" + s.random()

	name := Clean(original, s.scripts)
	if name == "" {
		return token
	}
	return token + "-" + name
}

// token returns the current Unix time in milliseconds, bumped past the last
// issued value when the clock has not advanced.
func (s *Sanitizer) token() int64 {
	for {
		last := s.last.Load()
		next := s.now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// randomSuffix returns SuffixLen hex characters taken from the fully random
// leading bytes of a version 4 UUID.
func randomSuffix() string {
	id := uuid.New()
	return hex.EncodeToString(id[:SuffixLen/2])
}

// Clean sanitizes a filename without adding a token. The result may be
// empty, and never contains path separators, "..", NUL, or control
// characters.
func Clean(original string, scripts []*unicode.RangeTable) string {
	name := RepairLatin1(original)

	var b strings.Builder
	b.Grow(len(name))

	inSpace := false
	lastDot := false
	for _, r := range name {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			lastDot = false
			continue
		}
		inSpace = false

		switch {
		case r == '.':
			// Runs of dots collapse to one and leading dots are dropped.
			if lastDot || b.Len() == 0 {
				continue
			}
			b.WriteByte('.')
			lastDot = true
			continue
		case isASCIIAlnum(r), r == '_', r == '-':
		case r != utf8.RuneError && unicode.IsLetter(r) && unicode.IsOneOf(scripts, r):
		case r != utf8.RuneError && unicode.IsNumber(r) && unicode.IsOneOf(scripts, r):
		default:
			continue
		}

		b.WriteRune(r)
		lastDot = false
	}

	return truncate(b.String(), MaxNameBytes)
}

// RepairLatin1 undoes the common transport mistake of decoding UTF-8 bytes
// as ISO-8859-1. If every rune fits in a single byte, at least one is
// non-ASCII, and re-encoding yields valid UTF-8, the repaired string is
// returned. Otherwise the input is returned unchanged.
func RepairLatin1(name string) string {
	high := false
	for _, r := range name {
		if r > 0xFF {
			return name
		}
		if r >= 0x80 {
			high = true
		}
	}
	if !high {
		return name
	}

	raw, err := charmap.ISO8859_1.NewEncoder().String(name)
	if err != nil || !utf8.ValidString(raw) {
		return name
	}
	return raw
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// truncate shortens name to at most limit bytes on a rune boundary, keeping
// a short extension intact.
func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}

	ext := path.Ext(name)
	if len(ext) > maxExtBytes || len(ext) == len(name) {
		ext = ""
	}

	head := name[:limit-len(ext)]
	for len(head) > 0 && !utf8.ValidString(head) {
		head = head[:len(head)-1]
	}
	return strings.TrimRight(head, ".") + ext
}
