// Package moderation filters chat content against a banned-word list.
package moderation

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

// ErrNoBannedWords is returned when a Checker is built without any usable word.
var ErrNoBannedWords = errors.New("moderation: banned word list must not be empty")

const root = 0

// state is a node of the automaton. Failure links are arena indices.
type state struct {
	next  map[rune]int32
	fail  int32
	match bool // this state, or one on its failure chain, ends a word
}

// Checker is an Aho-Corasick automaton over case-folded banned words.
// It is immutable once built and safe for concurrent use.
type Checker struct {
	states []state
	words  int
}

// NewChecker builds a Checker from words. Blank entries are skipped.
func NewChecker(words []string) (*Checker, error) {
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if strings.TrimSpace(w) == "" {
			continue
		}
		seen[lower(w)] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, ErrNoBannedWords
	}

	c := &Checker{
		states: []state{{next: make(map[rune]int32)}},
		words:  len(seen),
	}
	for w := range seen {
		c.insert(w)
	}
	c.link()
	return c, nil
}

// Len returns the number of distinct banned words.
func (c *Checker) Len() int {
	return c.words
}

func (c *Checker) insert(word string) {
	cur := int32(root)
	for _, r := range word {
		nxt, ok := c.states[cur].next[r]
		if !ok {
			nxt = int32(len(c.states))
			c.states = append(c.states, state{next: make(map[rune]int32)})
			c.states[cur].next[r] = nxt
		}
		cur = nxt
	}
	c.states[cur].match = true
}

// link assigns failure links breadth-first and propagates match flags
// from each failure target.
func (c *Checker) link() {
	queue := make([]int32, 0, len(c.states))
	for _, child := range c.states[root].next {
		c.states[child].fail = root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for r, child := range c.states[cur].next {
			f := c.states[cur].fail
			target, ok := c.states[f].next[r]
			for !ok && f != root {
				f = c.states[f].fail
				target, ok = c.states[f].next[r]
			}
			if !ok {
				target = root
			}

			c.states[child].fail = target
			if c.states[target].match {
				c.states[child].match = true
			}
			queue = append(queue, child)
		}
	}
}

// ContainsBannedWord reports whether text contains any banned word,
// ignoring case. Blank text never matches.
func (c *Checker) ContainsBannedWord(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	cur := int32(root)
	for _, r := range lower(text) {
		nxt, ok := c.states[cur].next[r]
		for !ok && cur != root {
			cur = c.states[cur].fail
			nxt, ok = c.states[cur].next[r]
		}
		if !ok {
			cur = root
			continue
		}
		cur = nxt
		if c.states[cur].match {
			return true
		}
	}
	return false
}

// lower applies Unicode case folding, which maps each character the same
// way regardless of its neighbours. A Caser is not safe to share, so one
// is created per call.
func lower(s string) string {
	return cases.Fold().String(s)
}
