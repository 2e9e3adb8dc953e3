package chat

import (
	"strings"
	"unicode/utf8"
)

const fenceMarker = "```"

// closingFence is what Split appends to a head that ends inside a code block.
// It bounds the head overshoot: len(first) <= limit + len(closingFence).
const closingFence = "\n" + fenceMarker

// Split divides text into a head of at most limit characters and the
// remainder. When text is shorter than the limit no split happens and the
// text comes back untouched.
//
// The cut starts as a hard cut at limit, backed up to a rune boundary so a
// multi-byte character is never torn apart, and is pulled back to the most
// recent structural boundary inside the head: a newline first, then a
// sentence end (". "), then plain whitespace. The boundary character itself
// is consumed (the period of a sentence end stays in the head). A boundary
// at offset zero would leave an empty head, so it counts as not found and
// the next boundary kind is tried; with no boundary at all the hard cut
// stands and a word gets cut in half.
//
// If the head ends inside a fenced code block (odd number of fence markers),
// the fence is closed at the end of the head and reopened at the front of
// the remainder, carrying over the language tag of the dangling fence. The
// inserted markers are display-only: stripping them re-yields the input.
//
// Split is pure and never fails, for any input string and any limit.
func Split(text string, limit int) (first, second string, split bool) {
	if limit < 1 {
		limit = 1
	}
	if len(text) < limit {
		return text, "", false
	}

	cut := limit
	if cut < len(text) {
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		// A limit inside the very first rune would leave an empty head;
		// keep the hard cut and tear the rune instead.
		if cut == 0 {
			cut = limit
		}
	}
	head, tail := text[:cut], text[cut:]

	if idx := strings.LastIndexByte(head, '\n'); idx > 0 {
		tail = head[idx+1:] + tail
		head = head[:idx]
	} else if idx := strings.LastIndex(head, ". "); idx > 0 {
		tail = head[idx+2:] + tail
		head = head[:idx+1]
	} else if idx := strings.LastIndexByte(head, ' '); idx > 0 {
		tail = head[idx+1:] + tail
		head = head[:idx]
	}

	if strings.Count(head, fenceMarker)%2 != 0 {
		tail = reopeningFence(head) + "\n" + tail
		head += closingFence
	}

	return head, tail, true
}

// reopeningFence builds the fence marker that reopens head's dangling code
// block, including its language tag ("```py" for a block opened by "```py").
func reopeningFence(head string) string {
	last := strings.LastIndex(head, fenceMarker)
	tag := head[last+len(fenceMarker):]
	if nl := strings.IndexByte(tag, '\n'); nl >= 0 {
		tag = tag[:nl]
	}
	return fenceMarker + tag
}
