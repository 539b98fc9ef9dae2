package pintable

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// CPUInfoPath is where the board revision is read from on Linux.
const CPUInfoPath = "/proc/cpuinfo"

// ErrRevisionDetection is returned when no revision code can be found.
var ErrRevisionDetection = errors.New("unable to detect board revision")

// Matches the last 4 hex digits of the code following "Revision:".
var revisionRe = regexp.MustCompile(`Revision\s*:\s*[0-9a-f]*([0-9a-f]{4})`)

// ParseRevision extracts the board revision from cpuinfo text.
// Revision codes below 4 are the original 26-pin V1 boards.
func ParseRevision(cpuinfo string) (Revision, error) {
	m := revisionRe.FindStringSubmatch(cpuinfo)
	if m == nil {
		return 0, fmt.Errorf("no Revision line in cpuinfo: %w", ErrRevisionDetection)
	}
	n, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse revision %q: %v: %w", m[1], err, ErrRevisionDetection)
	}
	if n < 4 {
		return RevisionV1, nil
	}
	return RevisionV2, nil
}

// DetectRevision reads and parses the cpuinfo file at path.
func DetectRevision(path string) (Revision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseRevision(string(data))
}
