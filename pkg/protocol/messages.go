package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names used on the hub connection.
const (
	EventInstanceData     = "instance-data"
	EventInstanceMetadata = "instance-metadata"
	EventMessage          = "message"
	EventError            = "error"
)

// HTTP headers of the challenge/session exchange.
const (
	HeaderInstanceKey = "X-Instance-Key"
	HeaderSignature   = "X-Signature"
)

// NotRegistered is sent by the hub, either as an HTTP body or as a socket
// error payload, when it does not know the instance's public key.
const NotRegistered = "INSTANCE_NOT_REGISTERED"

// EnvelopeType identifies the payload carried by an Envelope.
type EnvelopeType string

const (
	TypeApiUsageMap   EnvelopeType = "api_usage_map"
	TypeApiUsage      EnvelopeType = "api_usage"
	TypePastApiUsage  EnvelopeType = "past_api_usage"
	TypeIndexerStatus EnvelopeType = "indexer_status"
)

// Envelope is the {type, data} structure of every outbound event.
type Envelope struct {
	Type EnvelopeType `json:"type"`
	Data any          `json:"data"`
}

// ApiUsageMapData carries a serialized UsageStatsTable.
type ApiUsageMapData struct {
	Usage  string `json:"usage"`
	FromTs string `json:"fromTs,omitempty"`
	ToTs   string `json:"toTs,omitempty"`
}

// ApiUsageData is a single request counter sample.
type ApiUsageData struct {
	Counter   int64  `json:"counter"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UsagePoint is one historical counter sample used for backfilling.
type UsagePoint struct {
	Ct int64  `json:"ct"`
	Ts string `json:"ts"`
}

// IndexerStatusData reports the indexer state.
type IndexerStatusData struct {
	Status IndexerStatus `json:"status"`
}

// IndexerStatus is one of none, offline, delayed or active.
type IndexerStatus string

const (
	IndexerNone    IndexerStatus = "none"
	IndexerOffline IndexerStatus = "offline"
	IndexerDelayed IndexerStatus = "delayed"
	IndexerActive  IndexerStatus = "active"
)

// Valid reports whether s is one of the four known statuses.
func (s IndexerStatus) Valid() bool {
	switch s {
	case IndexerNone, IndexerOffline, IndexerDelayed, IndexerActive:
		return true
	}
	return false
}

// ParseIndexerStatus converts a string into an IndexerStatus.
func ParseIndexerStatus(v string) (IndexerStatus, error) {
	s := IndexerStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown indexer status %q", v)
	}
	return s, nil
}

// AuthPayload is presented to the hub when the socket connects.
type AuthPayload struct {
	PublicKey string `json:"publicKey"`
	Token     string `json:"token"`
}

// ControlMessage is an instruction sent by the hub on the message event.
type ControlMessage int

const (
	ControlUnknown ControlMessage = iota
	ControlMetadataRequest
)

const metadataRequest = "metadata-request"

// String returns the wire form of the control message.
func (m ControlMessage) String() string {
	switch m {
	case ControlMetadataRequest:
		return metadataRequest
	}
	return "unknown"
}

// ParseControlMessage decodes the payload of a message event. Payloads that
// are not JSON strings or not recognized map to ControlUnknown.
func ParseControlMessage(raw json.RawMessage) ControlMessage {
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ControlUnknown
	}
	switch msg {
	case metadataRequest:
		return ControlMetadataRequest
	}
	return ControlUnknown
}
