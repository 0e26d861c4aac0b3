package cheesebase

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/value"
)

// pathSeg is one step of a dotted path: either an object field name or an
// array index, per spec.md §6 ("dotted keys with [n] for array indices").
type pathSeg struct {
	index bool
	name  string
	idx   uint64
}

// parsePath splits a dotted path like "users[0].name" into its segments.
// An empty string parses to zero segments (the whole document).
func parsePath(path string) ([]pathSeg, error) {
	if path == "" {
		return nil, nil
	}

	var segs []pathSeg
	for _, field := range strings.Split(path, ".") {
		name := field
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				if name != "" {
					segs = append(segs, pathSeg{name: name})
				}
				break
			}
			if open > 0 {
				segs = append(segs, pathSeg{name: name[:open]})
			}
			close := strings.IndexByte(name[open:], ']')
			if close < 0 {
				return nil, cberr.New(cberr.ParserError, "cheesebase.parsePath", fmt.Errorf("unterminated index in %q", path))
			}
			close += open
			idxStr := name[open+1 : close]
			idx, err := strconv.ParseUint(idxStr, 10, 64)
			if err != nil {
				return nil, cberr.New(cberr.ParserError, "cheesebase.parsePath", fmt.Errorf("bad array index %q in %q", idxStr, path))
			}
			segs = append(segs, pathSeg{index: true, idx: idx})
			name = name[close+1:]
		}
	}
	return segs, nil
}

func (s pathSeg) String() string {
	if s.index {
		return fmt.Sprintf("[%d]", s.idx)
	}
	return s.name
}

// containerTag reports which value.Tag a segment's container must be:
// array for an index segment, object for a named one.
func (s pathSeg) containerTag() byte {
	if s.index {
		return byte(value.TagArray)
	}
	return byte(value.TagObject)
}
