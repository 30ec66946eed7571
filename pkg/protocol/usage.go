package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// UsageStatsTable maps an endpoint key to per-status-code occurrence counts.
type UsageStatsTable map[string]map[int]int64

// FormatUsageStats flattens the table into
// [[endpoint, [[code, count], ...]], ...] and returns it JSON encoded as a
// string. Endpoints and codes are emitted in ascending order.
func FormatUsageStats(table UsageStatsTable) (string, error) {
	endpoints := make([]string, 0, len(table))
	for k := range table {
		endpoints = append(endpoints, k)
	}
	sort.Strings(endpoints)

	pairs := make([][2]any, 0, len(endpoints))
	for _, endpoint := range endpoints {
		codeMap := table[endpoint]
		codes := make([]int, 0, len(codeMap))
		for code := range codeMap {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		counts := make([][2]int64, 0, len(codes))
		for _, code := range codes {
			counts = append(counts, [2]int64{int64(code), codeMap[code]})
		}
		pairs = append(pairs, [2]any{endpoint, counts})
	}

	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseUsageStats reverses FormatUsageStats.
func ParseUsageStats(s string) (UsageStatsTable, error) {
	var entries [][]json.RawMessage
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil, fmt.Errorf("decode usage stats: %w", err)
	}

	table := make(UsageStatsTable, len(entries))
	for i, entry := range entries {
		if len(entry) != 2 {
			return nil, fmt.Errorf("usage stats entry %d: want 2 elements, got %d", i, len(entry))
		}
		var endpoint string
		if err := json.Unmarshal(entry[0], &endpoint); err != nil {
			return nil, fmt.Errorf("usage stats entry %d key: %w", i, err)
		}
		var counts [][2]int64
		if err := json.Unmarshal(entry[1], &counts); err != nil {
			return nil, fmt.Errorf("usage stats entry %d counts: %w", i, err)
		}
		codeMap := make(map[int]int64, len(counts))
		for _, c := range counts {
			codeMap[int(c[0])] = c[1]
		}
		table[endpoint] = codeMap
	}
	return table, nil
}
