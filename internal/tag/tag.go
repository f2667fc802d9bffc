// Package tag formats and parses the public identifier prefix that heads
// every published post, e.g. "#ES_2296 ".
package tag

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultPrefix = "ES"
	MaxID         = 9999
	// Space is the size of the identifier ring.
	Space = MaxID + 1
)

func Format(prefix string, id int) string {
	return "#" + normalizePrefix(prefix) + "_" + strconv.Itoa(id)
}

// Message is the post body: tag, one space, then the content verbatim.
func Message(prefix string, id int, content string) string {
	return Format(prefix, id) + " " + content
}

// Parse finds the first well-formed tag in text. Only 1 to 4 digit ids that
// are not followed by another digit count.
func Parse(prefix, text string) (int, bool) {
	match := strictPattern(prefix).FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil || id > MaxID {
		return 0, false
	}
	return id, true
}

// ParseLenient accepts the looser spellings found in hand-edited publish
// logs: optional '#', optional '_', any case ("es2301", "#ES_2301").
func ParseLenient(prefix, cell string) (int, bool) {
	match := lenientPattern(prefix).FindStringSubmatch(strings.TrimSpace(cell))
	if match == nil {
		return 0, false
	}
	id, err := strconv.Atoi(match[1])
	if err != nil || id > MaxID {
		return 0, false
	}
	return id, true
}

// Wrap maps a candidate id onto the ring: anything above MaxID (or negative)
// becomes 0.
func Wrap(id int) int {
	if id < 0 || id > MaxID {
		return 0
	}
	return id
}

var (
	patternMu sync.Mutex
	strict    = map[string]*regexp.Regexp{}
	lenient   = map[string]*regexp.Regexp{}
)

func strictPattern(prefix string) *regexp.Regexp {
	prefix = normalizePrefix(prefix)
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := strict[prefix]; ok {
		return re
	}
	re := regexp.MustCompile(`#` + regexp.QuoteMeta(prefix) + `_(\d{1,4})(?:\D|$)`)
	strict[prefix] = re
	return re
}

func lenientPattern(prefix string) *regexp.Regexp {
	prefix = normalizePrefix(prefix)
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := lenient[prefix]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)#?` + regexp.QuoteMeta(prefix) + `_?(\d+)`)
	lenient[prefix] = re
	return re
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "#_")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// wrapWindow bounds how close to either end of the ring two ids must be
// for the pair to be read as a wrap (9998, 9999, 0, 1) rather than as
// unrelated history.
const wrapWindow = 1000

// Latest returns the most recent id in ids. Plain maximum, except that when
// the set straddles the wrap point the low ids count as newer than the high
// ones. Values are reduced onto the ring first.
func Latest(ids []int) (int, bool) {
	if len(ids) == 0 {
		return 0, false
	}
	var hasHigh, hasLow bool
	for _, id := range ids {
		id = ((id % Space) + Space) % Space
		if id >= Space-wrapWindow {
			hasHigh = true
		}
		if id < wrapWindow {
			hasLow = true
		}
	}
	straddles := hasHigh && hasLow

	best := -1
	for _, id := range ids {
		id = ((id % Space) + Space) % Space
		if straddles && id < wrapWindow {
			id += Space
		}
		if id > best {
			best = id
		}
	}
	return best % Space, true
}
