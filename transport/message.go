package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/swiftbeam/swiftbeam/device"
)

// Message payload kinds. The transport carries base64-wrapped JSON with a
// "type" discriminator; everything else in the envelope depends on the kind.
const (
	KindFileRequest   = "file-request"
	KindFileResponse  = "file-response"
	KindTransferOffer = "xfer-offer"
)

// PayloadVersion is the current message envelope version.
const PayloadVersion = 1

// ErrUnknownMessageKind indicates an envelope with an unrecognized type tag.
var ErrUnknownMessageKind = errors.New("unknown message kind")

// SenderRef identifies the device behind a message.
type SenderRef struct {
	DeviceID string          `json:"deviceId"`
	Name     string          `json:"name"`
	Platform device.Platform `json:"platform"`
}

// FileMeta describes one file named in a file-request payload. URL is set
// when the file arrived through a transfer-offer and is fetched rather than
// pushed.
type FileMeta struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Preview string `json:"preview,omitempty"`
	URL     string `json:"url,omitempty"`
}

// OfferFile describes one staged file named in a transfer-offer payload.
type OfferFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Message is the normalized decode of one inbound payload. Exactly the
// fields relevant to Kind are populated; consumers switch on Kind once
// instead of shape-sniffing raw JSON.
type Message struct {
	Kind        string
	Sender      SenderRef
	Files       []FileMeta  // KindFileRequest
	OfferFiles  []OfferFile // KindTransferOffer
	RequestID   string      // KindFileResponse
	Accepted    bool        // KindFileResponse
	Note        string
	Version     int
	TimestampMs int64
}

// envelope is the raw wire shape common to all payload kinds.
type envelope struct {
	Type        string     `json:"type"`
	Sender      SenderRef  `json:"sender"`
	Files       []FileMeta `json:"files,omitempty"`
	Message     string     `json:"message,omitempty"`
	RequestID   string     `json:"requestId,omitempty"`
	Accepted    bool       `json:"accepted,omitempty"`
	Version     int        `json:"v"`
	TimestampMs int64      `json:"ts"`
}

// DecodeMessage parses one base64-wrapped JSON payload into its normalized
// form. Unknown kinds return ErrUnknownMessageKind so callers can skip
// payloads from newer peers without treating them as failures.
func DecodeMessage(dataB64 string) (Message, error) {
	raw, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil {
		return Message{}, fmt.Errorf("decode message payload: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("parse message payload: %w", err)
	}

	msg := Message{
		Kind:        env.Type,
		Sender:      env.Sender,
		Note:        env.Message,
		Version:     env.Version,
		TimestampMs: env.TimestampMs,
	}

	switch env.Type {
	case KindFileRequest:
		msg.Files = env.Files
	case KindFileResponse:
		msg.RequestID = env.RequestID
		msg.Accepted = env.Accepted
	case KindTransferOffer:
		// Offer files reuse the files array but carry a url per entry.
		var offer struct {
			Files []OfferFile `json:"files"`
		}
		if err := json.Unmarshal(raw, &offer); err != nil {
			return Message{}, fmt.Errorf("parse offer files: %w", err)
		}
		msg.OfferFiles = offer.Files
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessageKind, env.Type)
	}

	return msg, nil
}

// EncodeFileRequest builds the base64 payload that signals intent to send
// files to a peer.
func EncodeFileRequest(sender SenderRef, files []FileMeta, note string) (string, error) {
	return encodePayload(envelope{
		Type:        KindFileRequest,
		Sender:      sender,
		Files:       files,
		Message:     note,
		Version:     PayloadVersion,
		TimestampMs: time.Now().UnixMilli(),
	})
}

// EncodeFileResponse builds the base64 payload acknowledging an inbound file
// request as accepted or declined.
func EncodeFileResponse(sender SenderRef, requestID string, accepted bool) (string, error) {
	return encodePayload(envelope{
		Type:        KindFileResponse,
		Sender:      sender,
		RequestID:   requestID,
		Accepted:    accepted,
		Version:     PayloadVersion,
		TimestampMs: time.Now().UnixMilli(),
	})
}

// EncodeTransferOffer builds the base64 payload that offers staged file URLs
// to a peer.
func EncodeTransferOffer(sender SenderRef, files []OfferFile) (string, error) {
	payload := struct {
		Type        string      `json:"type"`
		Sender      SenderRef   `json:"sender"`
		Files       []OfferFile `json:"files"`
		Version     int         `json:"v"`
		TimestampMs int64       `json:"ts"`
	}{
		Type:        KindTransferOffer,
		Sender:      sender,
		Files:       files,
		Version:     PayloadVersion,
		TimestampMs: time.Now().UnixMilli(),
	}
	return encodePayload(payload)
}

func encodePayload(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode message payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
