package naming

import (
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func newTestSanitizer(t *testing.T) *Sanitizer {
	t.Helper()

	s, err := NewSanitizer(DefaultScripts...)
	require.NoError(t, err, "NewSanitizer error")
	return s
}

func TestKeyForSimplePhoto(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	key := s.Key("my photo.png")
	require.Regexp(t, regexp.MustCompile(`^\d+-[0-9a-f]{12}-my_photo\.png$`), key)
}

func TestCleanRemovesTraversal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "parent dirs", in: "../../etc/passwd", want: "etcpasswd"},
		{name: "windows separators", in: `..\..\boot.ini`, want: "boot.ini"},
		{name: "nul byte", in: "evil\x00.png", want: "evil.png"},
		{name: "double dots inside", in: "a..b...png", want: "a.b.png"},
		{name: "control chars", in: "ab\x01\x7fc.jpg", want: "abc.jpg"},
		{name: "whitespace run", in: "  my \t\n photo .png", want: "_my_photo_.png"},
		{name: "punctuation", in: "hello<>:\"|?*world.webp", want: "helloworld.webp"},
		{name: "hangul kept", in: "상품 사진.jpg", want: "상품_사진.jpg"},
		{name: "han dropped by default", in: "图片.png", want: "png"},
	}

	s := newTestSanitizer(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Clean(tc.in, s.scripts))
		})
	}
}

func TestKeyNeverContainsUnsafeSequences(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"../x", "/abs/path.png", "..", ".", "...", "a/../../b", "\x00\x00",
		"C:\\Windows\\system32", "name\u202egnp.exe", "..%2f..%2f", "....//....//",
		strings.Repeat("../", 200) + "deep.png",
	}

	s := newTestSanitizer(t)
	for _, in := range inputs {
		key := s.Key(in)
		require.NotEmpty(t, key, "input %q", in)
		require.NotContains(t, key, "/", "input %q", in)
		require.NotContains(t, key, "\\", "input %q", in)
		require.NotContains(t, key, "..", "input %q", in)
		require.NotContains(t, key, "\x00", "input %q", in)
	}
}

func TestKeyFallsBackToToken(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	for _, in := range []string{"", "...", "////", "<>|", "\x00"} {
		key := s.Key(in)
		require.Regexp(t, regexp.MustCompile(`^\d+-[0-9a-f]{12}$`), key, "input %q", in)
	}
}

func TestKeysUniqueWithinSameMillisecond(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	frozen := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return frozen }

	const n = 500
	keys := make([]string, n)

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys[i] = s.Key("same.png")
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{}, n)
	for _, k := range keys {
		_, dup := seen[k]
		require.Falsef(t, dup, "duplicate key %q", k)
		seen[k] = struct{}{}
	}
}

func TestKeysUniqueAcrossSanitizers(t *testing.T) {
	t.Parallel()

	// Two replicas, or one process before and after a restart, sharing a
	// clock reading and an original name.
	frozen := time.UnixMilli(1_700_000_000_000)
	a := newTestSanitizer(t)
	b := newTestSanitizer(t)
	a.now = func() time.Time { return frozen }
	b.now = func() time.Time { return frozen }

	seen := make(map[string]struct{})
	for range 200 {
		for _, s := range []*Sanitizer{a, b} {
			k := s.Key("photo.png")
			_, dup := seen[k]
			require.Falsef(t, dup, "duplicate key %q", k)
			seen[k] = struct{}{}
		}
	}
}

func TestKeyTokenLayout(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	s.random = func() string { return "00aa11bb22cc" }

	require.Equal(t, "1700000000000-00aa11bb22cc-photo.png", s.Key("photo.png"))
	require.Equal(t, "1700000000001-00aa11bb22cc", s.Key("..."))
	require.Len(t, randomSuffix(), SuffixLen)
}

func TestRepairLatin1(t *testing.T) {
	t.Parallel()

	original := "리뷰 사진.png"
	mangled, err := charmap.ISO8859_1.NewDecoder().String(original)
	require.NoError(t, err)
	require.NotEqual(t, original, mangled)

	require.Equal(t, original, RepairLatin1(mangled))

	// Genuine Latin-1 text is not valid UTF-8 once re-encoded and is left alone.
	require.Equal(t, "café.png", RepairLatin1("café.png"))
	require.Equal(t, "plain.png", RepairLatin1("plain.png"))
}

func TestCleanTruncatesLongNames(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	long := strings.Repeat("가", 150) + ".jpeg"
	got := Clean(long, s.scripts)

	require.LessOrEqual(t, len(got), MaxNameBytes)
	require.True(t, strings.HasSuffix(got, ".jpeg"))
	require.True(t, strings.HasPrefix(got, "가"))
}

func TestNewSanitizerUnknownScript(t *testing.T) {
	t.Parallel()

	_, err := NewSanitizer("Klingon")
	require.Error(t, err)
}
