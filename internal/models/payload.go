package models

import (
	"errors"
	"fmt"
	"strings"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindAudio  MessageKind = "audio"
	KindVideo  MessageKind = "video"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindFile:
		return true
	}
	return false
}

func ParseMessageKind(s string) (MessageKind, error) {
	k := MessageKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindText, KindSystem:
		return k, nil
	}
	if k.IsMedia() {
		return k, nil
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

var ErrInvalidPayload = errors.New("invalid message payload")

// Payload is the closed set of message contents. Only the types in this
// package implement it.
type Payload interface {
	Kind() MessageKind
	Validate() error
	fields() (body, mediaURL string)
}

type Text struct {
	Body string
}

type Media struct {
	MediaKind MessageKind
	URL       string
	Caption   string
}

type System struct {
	Body string
}

func (Text) Kind() MessageKind { return KindText }
func (m Media) Kind() MessageKind { return m.MediaKind }
func (System) Kind() MessageKind { return KindSystem }
func (t Text) fields() (string, string) { return t.Body, "" }
func (m Media) fields() (string, string) { return m.Caption, m.URL }
func (s System) fields() (string, string) { return s.Body, "" }

func (t Text) Validate() error {
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: text body is empty", ErrInvalidPayload)
	}
	return nil
}

func (m Media) Validate() error {
	if !m.MediaKind.IsMedia() {
		return fmt.Errorf("%w: %q is not a media kind", ErrInvalidPayload, m.MediaKind)
	}
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("%w: media url is empty", ErrInvalidPayload)
	}
	return nil
}

func (s System) Validate() error {
	if strings.TrimSpace(s.Body) == "" {
		return fmt.Errorf("%w: system body is empty", ErrInvalidPayload)
	}
	return nil
}

// Apply copies the payload into the flat message row.
func Apply(msg *Message, p Payload) {
	msg.Kind = p.Kind()
	msg.Body, msg.MediaURL = p.fields()
}

// PayloadOf rebuilds the tagged payload from a stored row.
func PayloadOf(msg *Message) (Payload, error) {
	switch {
	case msg.Kind == KindText:
		return Text{Body: msg.Body}, nil
	case msg.Kind == KindSystem:
		return System{Body: msg.Body}, nil
	case msg.Kind.IsMedia():
		return Media{MediaKind: msg.Kind, URL: msg.MediaURL, Caption: msg.Body}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, msg.Kind)
}

// NewPayload builds a payload from wire fields.
func NewPayload(kind MessageKind, body, mediaURL string) (Payload, error) {
	var p Payload
	switch {
	case kind == "" || kind == KindText:
		p = Text{Body: body}
	case kind == KindSystem:
		p = System{Body: body}
	case kind.IsMedia():
		p = Media{MediaKind: kind, URL: mediaURL, Caption: body}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
