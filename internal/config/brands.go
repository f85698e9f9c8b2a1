package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadBrandIDs reads the brand-ID allow-list file. The format is one ID per
// line, with multiple IDs on a line separated by ';' or ','. Blank lines and
// '#' comments (full-line or inline) are ignored. Duplicates are removed and
// the result is sorted for stable logging.
func LoadBrandIDs(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open brands file: %w", err)
	}
	defer func() { _ = f.Close() }()

	seen := make(map[int64]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var fields []string
		switch {
		case strings.Contains(line, ";"):
			fields = strings.Split(line, ";")
		case strings.Contains(line, ","):
			fields = strings.Split(line, ",")
		default:
			fields = []string{line}
		}

		for _, field := range fields {
			// Strip inline comments
			if idx := strings.Index(field, "#"); idx >= 0 {
				field = field[:idx]
			}
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			id, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid brand ID %q: %w", field, err)
			}
			seen[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read brands file: %w", err)
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
