// Package frame implements the framed text sub-protocol spoken over persistent
// connections: STOMP 1.2 frames decoded into a closed set of client frame variants,
// and the server frames (CONNECTED, MESSAGE, RECEIPT, ERROR) written back.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	stomp "github.com/go-stomp/stomp/v3/frame"
)

// ProtocolVersion is the only STOMP version negotiated by the server
const ProtocolVersion = "1.2"

// HeaderAuthorization carries the bearer token in CONNECT frames
const HeaderAuthorization = "Authorization"

var (
	// ErrEmptyFrame is returned for input that holds no frame at all
	ErrEmptyFrame = errors.New("empty frame")
	// ErrUnsupportedCommand is returned for commands outside the client variant set
	ErrUnsupportedCommand = errors.New("unsupported command")
	// ErrMissingHeader is returned when a required header is absent
	ErrMissingHeader = errors.New("missing required header")
)

// ClientFrame is a decoded client frame. The concrete type is one of *Connect,
// *Subscribe, *Unsubscribe, *Send or *Disconnect.
type ClientFrame interface {
	// Command returns the STOMP command of the frame
	Command() string
	// ReceiptID returns the receipt header requested by the client, if any
	ReceiptID() string
}

// Connect opens a session. Authorization holds the raw header value.
type Connect struct {
	Authorization string
	AcceptVersion string
	HeartBeat     string
	Receipt       string
}

// Subscribe registers interest in a destination under a client-chosen id
type Subscribe struct {
	ID          string
	Destination string
	Receipt     string
}

// Unsubscribe cancels the subscription with the given id
type Unsubscribe struct {
	ID      string
	Receipt string
}

// Send publishes a body to a destination
type Send struct {
	Destination string
	ContentType string
	Body        []byte
	Receipt     string
}

// Disconnect ends the session gracefully
type Disconnect struct {
	Receipt string
}

func (*Connect) Command() string     { return stomp.CONNECT }
func (*Subscribe) Command() string   { return stomp.SUBSCRIBE }
func (*Unsubscribe) Command() string { return stomp.UNSUBSCRIBE }
func (*Send) Command() string        { return stomp.SEND }
func (*Disconnect) Command() string  { return stomp.DISCONNECT }

func (f *Connect) ReceiptID() string     { return f.Receipt }
func (f *Subscribe) ReceiptID() string   { return f.Receipt }
func (f *Unsubscribe) ReceiptID() string { return f.Receipt }
func (f *Send) ReceiptID() string        { return f.Receipt }
func (f *Disconnect) ReceiptID() string  { return f.Receipt }

// Decode parses one client frame. A heart-beat (bare end-of-line) decodes to a nil
// frame and a nil error.
func Decode(data []byte) (ClientFrame, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		// No else needed: early return pattern (guard clause)
		if len(data) > 0 {
			return nil, nil
		}
		return nil, ErrEmptyFrame
	}

	raw, err := stomp.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if raw == nil {
		return nil, nil
	}

	return fromStomp(raw)
}

func fromStomp(raw *stomp.Frame) (ClientFrame, error) {
	receipt := raw.Header.Get(stomp.Receipt)

	switch raw.Command {
	case stomp.CONNECT, stomp.STOMP:
		return &Connect{
			Authorization: raw.Header.Get(HeaderAuthorization),
			AcceptVersion: raw.Header.Get(stomp.AcceptVersion),
			HeartBeat:     raw.Header.Get(stomp.HeartBeat),
			Receipt:       receipt,
		}, nil

	case stomp.SUBSCRIBE:
		destination, err := required(raw, stomp.Destination)
		if err != nil {
			return nil, err
		}
		id, err := required(raw, stomp.Id)
		if err != nil {
			return nil, err
		}
		return &Subscribe{ID: id, Destination: destination, Receipt: receipt}, nil

	case stomp.UNSUBSCRIBE:
		id, err := required(raw, stomp.Id)
		if err != nil {
			return nil, err
		}
		return &Unsubscribe{ID: id, Receipt: receipt}, nil

	case stomp.SEND:
		destination, err := required(raw, stomp.Destination)
		if err != nil {
			return nil, err
		}
		return &Send{
			Destination: destination,
			ContentType: raw.Header.Get(stomp.ContentType),
			Body:        raw.Body,
			Receipt:     receipt,
		}, nil

	case stomp.DISCONNECT:
		return &Disconnect{Receipt: receipt}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, raw.Command)
	}
}

func required(raw *stomp.Frame, header string) (string, error) {
	value, ok := raw.Header.Contains(header)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s in %s frame", ErrMissingHeader, header, raw.Command)
	}
	return value, nil
}

// EncodeConnected builds the CONNECTED frame acknowledging a successful handshake
func EncodeConnected(sessionID string) ([]byte, error) {
	f := stomp.New(stomp.CONNECTED,
		stomp.Version, ProtocolVersion,
		stomp.HeartBeat, "0,0",
		stomp.Session, sessionID,
	)
	return encode(f)
}

// EncodeMessage builds the MESSAGE frame delivering body to one subscription
func EncodeMessage(destination, subscriptionID, messageID string, body []byte) ([]byte, error) {
	f := stomp.New(stomp.MESSAGE,
		stomp.Destination, destination,
		stomp.Subscription, subscriptionID,
		stomp.MessageId, messageID,
		stomp.ContentType, "application/json",
	)
	f.Body = body
	return encode(f)
}

// EncodeReceipt builds the RECEIPT frame for a client receipt request
func EncodeReceipt(receiptID string) ([]byte, error) {
	return encode(stomp.New(stomp.RECEIPT, stomp.ReceiptId, receiptID))
}

// EncodeError builds an ERROR frame. The message header carries the short
// description and the body carries the JSON error details.
func EncodeError(message string, body []byte, receiptID string) ([]byte, error) {
	f := stomp.New(stomp.ERROR, stomp.Message, message)
	if receiptID != "" {
		f.Header.Add(stomp.ReceiptId, receiptID)
	}
	if len(body) > 0 {
		f.Header.Add(stomp.ContentType, "application/json")
		f.Body = body
	}
	return encode(f)
}

func encode(f *stomp.Frame) ([]byte, error) {
	if len(f.Body) > 0 {
		f.Header.Set(stomp.ContentLength, strconv.Itoa(len(f.Body)))
	}
	var buf bytes.Buffer
	if err := stomp.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}
