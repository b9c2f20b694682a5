package model

// NmeaMessage is one checksum-valid sentence, kept verbatim for pass-through.
type NmeaMessage struct {
	text string
}

// NewNmeaMessage copies b; later changes to b do not affect the message.
func NewNmeaMessage(b []byte) NmeaMessage {
	return NmeaMessage{text: string(b)}
}

func (m NmeaMessage) String() string { return m.text }

func (m NmeaMessage) Bytes() []byte { return []byte(m.text) }

func (m NmeaMessage) Len() int { return len(m.text) }
