package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"

	"hydrotwin/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.ReadingFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.ReadingFields {
	fields := &normalize.ReadingFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		assignField(fields, key, jsonString(val))
	}
	return fields
}

// jsonString avoids exponent notation for large numbers such as unix millis.
func jsonString(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
