package merge

import (
	"fmt"
	"strings"
)

// parsedFile is one conflicted file split into alternating plain text and
// conflict regions, in file order. Rebuilding the file from its segments with
// a decision per region yields the resolved content.
type parsedFile struct {
	path     string
	segments []segment
}

type segment struct {
	text   string  // set for plain segments
	region *region // set for conflict segments
}

// region holds both sides of one conflict-marker block. target is the side
// checked out at the repo root (ours), source is the incoming branch (theirs).
type region struct {
	target string
	source string
}

// parseConflictFile splits content produced by a stopped merge into segments.
// Handles both the default marker style and diff3 (the base section between
// ||||||| and ======= is dropped; resolutions pick a whole side or supply
// custom content, so the base adds nothing).
func parseConflictFile(path, content string) (*parsedFile, error) {
	lines := strings.Split(content, "\n")
	// Split leaves a trailing empty element when content ends with a newline.
	trailingNewline := strings.HasSuffix(content, "\n")
	if trailingNewline {
		lines = lines[:len(lines)-1]
	}

	const (
		statePlain = iota
		stateTarget
		stateBase
		stateSource
	)
	pf := &parsedFile{path: path}
	state := statePlain
	var plain, target, source []string

	flushPlain := func() {
		if len(plain) > 0 {
			pf.segments = append(pf.segments, segment{text: joinLines(plain)})
			plain = nil
		}
	}
	for _, line := range lines {
		switch state {
		case statePlain:
			if strings.HasPrefix(line, "<<<<<<<") {
				flushPlain()
				state = stateTarget
				continue
			}
			plain = append(plain, line)
		case stateTarget:
			if strings.HasPrefix(line, "|||||||") {
				state = stateBase
				continue
			}
			if line == "=======" {
				state = stateSource
				continue
			}
			target = append(target, line)
		case stateBase:
			if line == "=======" {
				state = stateSource
				continue
			}
			// base content dropped
		case stateSource:
			if strings.HasPrefix(line, ">>>>>>>") {
				pf.segments = append(pf.segments, segment{region: &region{
					target: joinLines(target),
					source: joinLines(source),
				}})
				target, source = nil, nil
				state = statePlain
				continue
			}
			source = append(source, line)
		}
	}
	if state != statePlain {
		return nil, fmt.Errorf("unterminated conflict marker in %s", path)
	}
	flushPlain()
	return pf, nil
}

// regions returns the conflict regions in file order.
func (pf *parsedFile) regions() []*region {
	var out []*region
	for _, s := range pf.segments {
		if s.region != nil {
			out = append(out, s.region)
		}
	}
	return out
}

// rebuild assembles resolved file content. decide is called with the region's
// zero-based index within the file and returns the chosen replacement text.
func (pf *parsedFile) rebuild(decide func(idx int, r *region) string) string {
	var b strings.Builder
	idx := 0
	for _, s := range pf.segments {
		if s.region == nil {
			b.WriteString(s.text)
			continue
		}
		b.WriteString(decide(idx, s.region))
		idx++
	}
	return b.String()
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
