package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"fdsengine/core"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts stream payloads to transactions and incidents to payloads
type Codec interface {
	Name() string
	DecodeTransaction(data []byte) (core.Transaction, error)
	EncodeIncident(inc *core.Incident) ([]byte, error)
}

// NewCodec returns the codec registered under name ("json" or "msgpack")
func NewCodec(name string) (Codec, error) {
	switch name {
	case "json", "":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown stream encoding %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

// DecodeTransaction keeps numbers as json.Number so large ids survive intact
func (jsonCodec) DecodeTransaction(data []byte) (core.Transaction, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var txn map[string]interface{}
	if err := dec.Decode(&txn); err != nil {
		return nil, fmt.Errorf("failed to decode json transaction: %w", err)
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction payload is not an object")
	}
	return core.Transaction(txn), nil
}

func (jsonCodec) EncodeIncident(inc *core.Incident) ([]byte, error) {
	return json.Marshal(inc)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) DecodeTransaction(data []byte) (core.Transaction, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))

	var txn map[string]interface{}
	if err := dec.Decode(&txn); err != nil {
		return nil, fmt.Errorf("failed to decode msgpack transaction: %w", err)
	}
	if txn == nil {
		return nil, fmt.Errorf("transaction payload is not a map")
	}
	return core.Transaction(txn), nil
}

// EncodeIncident reuses the json tags so both encodings share field names
func (msgpackCodec) EncodeIncident(inc *core.Incident) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(inc); err != nil {
		return nil, fmt.Errorf("failed to encode incident: %w", err)
	}
	return buf.Bytes(), nil
}
