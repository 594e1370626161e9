package utils

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// BytesToHex encodes bytes as a 0x prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToBytes decodes a hex string with or without the 0x prefix.
func HexToBytes(str string) ([]byte, error) {
	str = strings.TrimPrefix(strings.TrimSpace(str), "0x")
	b, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %v", err)
	}
	return b, nil
}

// 직렬화 방식 상수
const (
	SerializationFormatJSON = iota
	SerializationFormatCBOR
)

// Deterministic encoding keeps persisted records byte-stable across rewrites.
var cborEnc, _ = cbor.CoreDetEncOptions().EncMode()

// SerializeData 객체를 바이트 배열로 직렬화
func SerializeData(data interface{}, format int) ([]byte, error) {
	switch format {
	case SerializationFormatJSON:
		return json.Marshal(data)
	case SerializationFormatCBOR:
		return cborEnc.Marshal(data)
	default:
		return nil, fmt.Errorf("unsupported serialization format: %d", format)
	}
}

// DeserializeData 바이트 배열을 객체로 역직렬화
func DeserializeData(data []byte, result interface{}, format int) error {
	switch format {
	case SerializationFormatJSON:
		return json.Unmarshal(data, result)
	case SerializationFormatCBOR:
		return cbor.Unmarshal(data, result)
	default:
		return fmt.Errorf("unsupported serialization format: %d", format)
	}
}
