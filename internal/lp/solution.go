package lp

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseSolution reads a two-column variable,value table as produced by the
// external solver wrapper. A header row is recognized and skipped. Variables
// the solver omits are treated as zero by Check.
func ParseSolution(r io.Reader) (Point, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	pt := Point{}
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("solution line %d: %w", line+1, err)
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("solution line %d: want variable,value", line)
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			continue
		}
		if line == 1 && strings.EqualFold(name, "variable") {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("solution line %d: bad value for %s: %w", line, name, err)
		}
		if _, ok := pt[name]; ok {
			return nil, fmt.Errorf("solution line %d: duplicate variable %s", line, name)
		}
		pt[name] = v
	}
	return pt, nil
}
