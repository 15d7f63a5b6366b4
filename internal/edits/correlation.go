package edits

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// nearMatchMaxDistance bounds the fuzzy fallback: paths further apart than
// this are never treated as the same file.
const nearMatchMaxDistance = 3

// Correlation maps affected file paths to the FIFO of tool-call ids that
// are expected to edit them. A later write-permission request carries a
// file path but usually no tool-call id; Claim dequeues the oldest
// unmatched id for that path.
//
// The mapping is a best-effort guess: exact path first, then
// case-insensitive, then the nearest registered path within a small edit
// distance. Entries are consumed at most once and discarded at Reset so
// nothing leaks across requests.
type Correlation struct {
	mu     sync.Mutex
	queues map[string][]string
}

// NewCorrelation creates an empty correlation map.
func NewCorrelation() *Correlation {
	return &Correlation{queues: make(map[string][]string)}
}

// Register appends callID to the queue of every affected file.
func (c *Correlation) Register(callID string, files ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range files {
		key := normalizeKey(f)
		c.queues[key] = append(c.queues[key], callID)
	}
}

// Claim dequeues the oldest unmatched tool-call id expected to edit path.
func (c *Correlation) Claim(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := normalizeKey(path)
	if id, ok := c.pop(key); ok {
		return id, true
	}

	// Fall back to the nearest registered path. Base-name mismatches are
	// excluded outright so a request is never attributed to an edit of an
	// unrelated file.
	base := filepath.Base(key)
	bestKey := ""
	bestDist := nearMatchMaxDistance + 1
	for candidate, queue := range c.queues {
		if len(queue) == 0 || filepath.Base(candidate) != base {
			continue
		}
		if d := levenshtein.ComputeDistance(candidate, key); d < bestDist {
			bestDist = d
			bestKey = candidate
		}
	}
	if bestKey == "" {
		return "", false
	}
	return c.pop(bestKey)
}

// Files returns the registered paths still holding unclaimed ids.
func (c *Correlation) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var files []string
	for key, queue := range c.queues {
		if len(queue) > 0 {
			files = append(files, key)
		}
	}
	return files
}

// Reset discards all unconsumed entries.
func (c *Correlation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = make(map[string][]string)
}

func (c *Correlation) pop(key string) (string, bool) {
	queue := c.queues[key]
	if len(queue) == 0 {
		return "", false
	}
	id := queue[0]
	c.queues[key] = queue[1:]
	return id, true
}

// normalizeKey lower-cases and cleans a path so case and separator
// differences between the runtime's report and the permission request do
// not defeat the exact match.
func normalizeKey(path string) string {
	return strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
}
