package chat

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitReturnsShortTextUntouched(t *testing.T) {
	for _, text := range []string{"", "hi", "a couple of words", strings.Repeat("x", 99)} {
		first, second, split := Split(text, 100)
		if split {
			t.Fatalf("Split(%q, 100) split = true, want false", text)
		}
		if first != text || second != "" {
			t.Fatalf("Split(%q, 100) = (%q, %q), want input untouched", text, first, second)
		}
	}
}

func TestSplitPrefersLastWhitespace(t *testing.T) {
	first, second, split := Split("This is a dummy, but also pretty long response", 30)
	if !split {
		t.Fatalf("expected a split")
	}
	if first != "This is a dummy, but also" {
		t.Fatalf("first = %q, want split at last whitespace", first)
	}
	if second != "pretty long response" {
		t.Fatalf("second = %q, want remainder without the boundary space", second)
	}
}

func TestSplitPrefersNewlineOverWhitespace(t *testing.T) {
	first, second, split := Split("first line\nsecond line with more words", 30)
	if !split {
		t.Fatalf("expected a split")
	}
	if first != "first line" {
		t.Fatalf("first = %q, want cut at the newline", first)
	}
	if second != "second line with more words" {
		t.Fatalf("second = %q", second)
	}
}

func TestSplitPrefersSentenceEndOverWhitespace(t *testing.T) {
	first, second, split := Split("One sentence. Another one follows here", 20)
	if !split {
		t.Fatalf("expected a split")
	}
	if first != "One sentence." {
		t.Fatalf("first = %q, want the period kept in the head", first)
	}
	if second != "Another one follows here" {
		t.Fatalf("second = %q", second)
	}
}

func TestSplitHardCutWithoutBoundary(t *testing.T) {
	text := strings.Repeat("a", 40)
	first, second, split := Split(text, 25)
	if !split {
		t.Fatalf("expected a split")
	}
	if first != text[:25] || second != text[25:] {
		t.Fatalf("Split = (%q, %q), want hard cut at 25", first, second)
	}
	if first+second != text {
		t.Fatalf("hard cut lost text: %q + %q != %q", first, second, text)
	}
}

func TestSplitHardCutKeepsRunesIntact(t *testing.T) {
	// Unspaced multi-byte text (CJK and friends) has no boundary markers, so
	// the hard cut must land on a rune boundary, not inside one.
	text := strings.Repeat("é", 20)
	first, second, split := Split(text, 9)
	if !split {
		t.Fatalf("expected a split")
	}
	if !utf8.ValidString(first) || !utf8.ValidString(second) {
		t.Fatalf("Split = (%q, %q), want valid UTF-8 in both halves", first, second)
	}
	if first+second != text {
		t.Fatalf("rune-aware cut lost text: %q + %q != %q", first, second, text)
	}
	if len(first) > 9 {
		t.Fatalf("len(first) = %d, want <= 9", len(first))
	}

	text = strings.Repeat("日本語", 10)
	first, second, _ = Split(text, 10)
	if !utf8.ValidString(first) || !utf8.ValidString(second) {
		t.Fatalf("Split = (%q, %q), want valid UTF-8 in both halves", first, second)
	}
	if first+second != text {
		t.Fatalf("rune-aware cut lost text: %q + %q != %q", first, second, text)
	}
}

func TestSplitBoundaryAtStartCountsAsNotFound(t *testing.T) {
	// A space at offset zero must not produce an empty head.
	text := " " + strings.Repeat("b", 30)
	first, second, split := Split(text, 10)
	if !split {
		t.Fatalf("expected a split")
	}
	if first == "" {
		t.Fatalf("got empty head")
	}
	if first != text[:10] || second != text[10:] {
		t.Fatalf("Split = (%q, %q), want hard cut", first, second)
	}
}

func TestSplitRebalancesCodeFenceWithLanguageTag(t *testing.T) {
	text := "```py\nprint(1)\nprint(2)\n```\n"
	first, second, split := Split(text, 15)
	if !split {
		t.Fatalf("expected a split")
	}
	if first != "```py\nprint(1)\n```" {
		t.Fatalf("first = %q, want closed fence appended", first)
	}
	if second != "```py\nprint(2)\n```\n" {
		t.Fatalf("second = %q, want fence reopened with language tag", second)
	}
}

func TestSplitRebalancesCodeFenceWithoutLanguageTag(t *testing.T) {
	text := "```\nalpha\nbeta\ngamma\n```\n"
	first, second, split := Split(text, 12)
	if !split {
		t.Fatalf("expected a split")
	}
	if !strings.HasSuffix(first, "\n```") {
		t.Fatalf("first = %q, want closing fence at the end", first)
	}
	if !strings.HasPrefix(second, "```\n") {
		t.Fatalf("second = %q, want bare fence reopened", second)
	}
}

func TestSplitKeepsFenceParityEven(t *testing.T) {
	text := "intro text\n```go\nfunc main() {}\nvar x = 1\nvar y = 2\n```\noutro"
	for limit := 10; limit < len(text); limit += 7 {
		first, second, split := Split(text, limit)
		if !split {
			t.Fatalf("limit %d: expected a split", limit)
		}
		if strings.Count(first, fenceMarker)%2 != 0 {
			t.Fatalf("limit %d: first has odd fence count: %q", limit, first)
		}
		if strings.Count(second, fenceMarker)%2 != 0 {
			t.Fatalf("limit %d: second has odd fence count: %q", limit, second)
		}
	}
}

func TestSplitHeadNeverExceedsLimitPlusClosingFence(t *testing.T) {
	text := "words and more words\n```py\ncode here\nmore code\n```\ntrailing text after the block"
	for limit := 1; limit < len(text)+10; limit++ {
		first, _, _ := Split(text, limit)
		max := limit + len(closingFence)
		if len(first) > max {
			t.Fatalf("limit %d: len(first) = %d, want <= %d (%q)", limit, len(first), max, first)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := "Some text. With a sentence\nand a newline and ```go\na fence"
	f1, s1, ok1 := Split(text, 30)
	f2, s2, ok2 := Split(text, 30)
	if f1 != f2 || s1 != s2 || ok1 != ok2 {
		t.Fatalf("Split is not deterministic: (%q, %q, %v) vs (%q, %q, %v)", f1, s1, ok1, f2, s2, ok2)
	}
}

func TestSplitHandlesDegenerateInputs(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		limit int
	}{
		{"zero limit", "anything at all", 0},
		{"negative limit", "anything at all", -3},
		{"only whitespace", "         ", 4},
		{"unmatched fence", "```py\nnever closed", 9},
		{"exactly limit", "abcd", 4},
		{"limit inside first rune", "日本語", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, second, split := Split(tc.text, tc.limit)
			if !split {
				t.Fatalf("Split(%q, %d): expected a split", tc.text, tc.limit)
			}
			if first == "" && tc.text != "" {
				t.Fatalf("Split(%q, %d): empty head", tc.text, tc.limit)
			}
			_ = second
		})
	}
}
