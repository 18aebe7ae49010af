package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func clampPage(limit, offset int32) (int32, int32) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func marshalMetadata(fields map[string]any) []byte {
	if len(fields) == 0 {
		return nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return b
}

func marshalReasonMetadata(reason string) []byte {
	return marshalMetadata(map[string]any{"reason": reason})
}

func ptr[T any](v T) *T {
	return &v
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
