// Package codec converts message payloads to and from their wire form.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFormat wraps every encode or decode failure.
var ErrFormat = errors.New("codec: invalid payload")

// Encode marshals value to compact JSON.
func Encode(value any) ([]byte, error) {
	if raw, ok := value.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: raw message is not valid JSON", ErrFormat)
		}
		return raw, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return data, nil
}

// EncodeString marshals value and returns the JSON text.
func EncodeString(value any) (string, error) {
	data, err := Encode(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode unmarshals data into target. Numbers decode as json.Number so large
// integers such as timetokens survive.
func Decode(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if decoder.More() {
		return fmt.Errorf("%w: trailing data", ErrFormat)
	}
	return nil
}

// DecodeValue decodes data into a generic value.
func DecodeValue(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var value any
	if err := Decode(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
