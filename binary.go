package sioserver

import (
	"fmt"
	"sort"
)

const (
	placeholderKey = "_placeholder"
	placeholderNum = "num"
)

func hasBinary(data interface{}) bool {
	switch v := data.(type) {
	case []byte:
		return true
	case []interface{}:
		for _, value := range v {
			if hasBinary(value) {
				return true
			}
		}
	case map[string]interface{}:
		for _, value := range v {
			if hasBinary(value) {
				return true
			}
		}
	}
	return false
}

// deconstruct returns a copy of data with every []byte replaced by a
// placeholder object. Blobs are appended to buffers in depth-first order;
// map keys are visited sorted so numbering is stable.
func deconstruct(data interface{}, buffers *[][]byte) interface{} {
	switch v := data.(type) {
	case []byte:
		*buffers = append(*buffers, v)
		return map[string]interface{}{placeholderKey: true, placeholderNum: len(*buffers) - 1}
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, value := range v {
			out[i] = deconstruct(value, buffers)
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		out := make(map[string]interface{}, len(v))
		for _, key := range keys {
			out[key] = deconstruct(v[key], buffers)
		}
		return out
	default:
		return data
	}
}

// reconstruct replaces placeholders in freshly decoded data with their
// attachments. Decoded data is owned by the decoder so it is rewritten in place.
func reconstruct(data interface{}, buffers [][]byte) (interface{}, error) {
	switch v := data.(type) {
	case []interface{}:
		for i, value := range v {
			out, err := reconstruct(value, buffers)
			if err != nil {
				return nil, err
			}
			v[i] = out
		}
	case map[string]interface{}:
		if isPlaceholder(v) {
			num, ok := v[placeholderNum].(float64)
			if !ok || num != float64(int(num)) || int(num) < 0 || int(num) >= len(buffers) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPlaceholder, v[placeholderNum])
			}
			return buffers[int(num)], nil
		}
		for key, value := range v {
			out, err := reconstruct(value, buffers)
			if err != nil {
				return nil, err
			}
			v[key] = out
		}
	}
	return data, nil
}

func countPlaceholders(data interface{}) int {
	n := 0
	switch v := data.(type) {
	case []interface{}:
		for _, value := range v {
			n += countPlaceholders(value)
		}
	case map[string]interface{}:
		if isPlaceholder(v) {
			return 1
		}
		for _, value := range v {
			n += countPlaceholders(value)
		}
	}
	return n
}

func isPlaceholder(v map[string]interface{}) bool {
	flag, ok := v[placeholderKey].(bool)
	return ok && flag
}
