// Package decoder frames a raw receiver byte stream into NMEA 0183
// sentences, validates their checksums and turns them into field updates on
// a Sink.
package decoder

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	nmea "github.com/adrianmo/go-nmea"

	"gnss-bridge/internal/logging"
	"gnss-bridge/internal/metrics"
	"gnss-bridge/internal/model"
	"gnss-bridge/internal/timeutil"
)

const DefaultMaxSentenceBytes = 512

var (
	ErrMissingChecksum = errors.New("nmea: missing checksum")
	ErrBadChecksum     = errors.New("nmea: checksum mismatch")
)

// Sink receives the decoded field updates. The device orchestrator is the
// production implementation.
type Sink interface {
	SetTimestamp(ms int64)
	SetLocation(latitude, longitude float64)
	SetAltitude(meters float64)
	SetSpeed(mps float32)
	SetBearing(deg float32)
	SetAccuracy(meters float32)

	InvalidateLocation()
	InvalidateAltitude()
	InvalidateSpeed()
	InvalidateBearing()
	InvalidateAccuracy()

	// EmitNmea is called for every checksum-valid sentence before it is
	// parsed.
	EmitNmea(msg model.NmeaMessage)

	// SetSatellitesUsed reports the satellites of one GSA sentence.
	SetSatellitesUsed(ids []model.SatIdentifier)
	// SatellitesInView reports one GSV message (part of total).
	SatellitesInView(talker string, part, total int, sats []model.SatInfo)

	// SentenceDone marks the end of one handled sentence of the given type
	// (GGA, RMC, ...).
	SentenceDone(sentenceType string)
}

type Config struct {
	// MaxSentenceBytes bounds one sentence from '$' to the terminator.
	MaxSentenceBytes int
	// HDOPAccuracyFactor converts GGA HDOP into an accuracy estimate in
	// meters. Zero disables the estimate. GST, when present, wins.
	HDOPAccuracyFactor float64

	Clock  *timeutil.Clock
	Logger *slog.Logger
}

type Stats struct {
	Running     bool   `json:"running"`
	Buffered    int    `json:"buffered_bytes"`
	Sentences   uint64 `json:"sentences"`
	BadChecksum uint64 `json:"bad_checksum"`
	Malformed   uint64 `json:"malformed"`
	Unsupported uint64 `json:"unsupported"`
	Oversized   uint64 `json:"oversized"`
	DroppedIdle uint64 `json:"dropped_idle_bytes"`
}

// Decoder is fed by one stream reader goroutine through OnNewBytes.
// Start and Stop may be called from any goroutine.
type Decoder struct {
	cfg   Config
	sink  Sink
	log   *slog.Logger
	clock *timeutil.Clock

	mu      sync.Mutex
	running bool
	buf     []byte

	// session is bumped by Start and Stop; a batch extracted under one
	// session is abandoned once it changes.
	session atomic.Uint64
	haveGST atomic.Bool
	// dateRef is the last RMC-dated timestamp in UTC ms, zero until one
	// arrives.
	dateRef atomic.Int64

	sentences   atomic.Uint64
	badChecksum atomic.Uint64
	malformed   atomic.Uint64
	unsupported atomic.Uint64
	oversized   atomic.Uint64
	droppedIdle atomic.Uint64
}

func New(sink Sink, cfg Config) *Decoder {
	if cfg.MaxSentenceBytes <= 0 {
		cfg.MaxSentenceBytes = DefaultMaxSentenceBytes
	}
	if cfg.HDOPAccuracyFactor < 0 {
		cfg.HDOPAccuracyFactor = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Decoder{
		cfg:   cfg,
		sink:  sink,
		log:   cfg.Logger.With("component", "decoder"),
		clock: cfg.Clock,
	}
}

// Start discards any stale partial input and begins a new session.
func (d *Decoder) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.running = true
	d.haveGST.Store(false)
	d.dateRef.Store(0)
	d.session.Add(1)
}

// Stop ends the session. Buffered partial input is dropped and bytes
// arriving afterwards are ignored until the next Start.
func (d *Decoder) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.running = false
	d.session.Add(1)
}

func (d *Decoder) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// OnNewBytes appends buf to the accumulation buffer and processes every
// sentence it completes. buf is not retained.
func (d *Decoder) OnNewBytes(buf []byte) {
	if d == nil || len(buf) == 0 {
		return
	}
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.droppedIdle.Add(uint64(len(buf)))
		return
	}
	gen := d.session.Load()
	d.buf = append(d.buf, buf...)
	lines := d.extractLocked()
	d.mu.Unlock()

	for _, line := range lines {
		if d.session.Load() != gen {
			return
		}
		d.handle(line)
	}
}

// extractLocked pulls every complete sentence out of the accumulation
// buffer. Returned slices are private copies without the line terminator.
func (d *Decoder) extractLocked() [][]byte {
	var out [][]byte
	limit := d.cfg.MaxSentenceBytes
	rest := d.buf

	for {
		start := bytes.IndexByte(rest, '$')
		if start < 0 {
			rest = rest[:0]
			break
		}
		rest = rest[start:]

		nl := bytes.IndexByte(rest, '\n')
		end := nl
		if end < 0 {
			end = len(rest)
		}
		// A '$' inside the candidate means the earlier sentence was cut
		// short; resync to the newest start.
		if k := bytes.LastIndexByte(rest[:end], '$'); k > 0 {
			rest = rest[k:]
			end -= k
			if nl >= 0 {
				nl -= k
			}
		}

		if nl < 0 {
			if len(rest) > limit {
				d.oversized.Add(1)
				metrics.IncSentence("", metrics.SentenceOversized)
				d.log.Debug("discarding unterminated oversized input", "bytes", len(rest))
				rest = rest[:0]
			}
			break
		}

		line := rest[:nl]
		rest = rest[nl+1:]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > limit {
			d.oversized.Add(1)
			metrics.IncSentence("", metrics.SentenceOversized)
			continue
		}
		out = append(out, append([]byte(nil), line...))
	}

	d.buf = append(d.buf[:0], rest...)
	return out
}

// handle validates one framed sentence and dispatches it to the sink.
func (d *Decoder) handle(line []byte) {
	if err := verifyChecksum(line); err != nil {
		if errors.Is(err, ErrBadChecksum) {
			d.badChecksum.Add(1)
			metrics.IncSentence("", metrics.SentenceBadChecksum)
		} else {
			d.malformed.Add(1)
			metrics.IncSentence("", metrics.SentenceMalformed)
		}
		d.log.Debug("discarding sentence", "sentence", string(line), logging.Err(err))
		return
	}
	d.sentences.Add(1)
	d.sink.EmitNmea(model.NewNmeaMessage(line))

	// go-nmea compares against an uppercase checksum.
	raw := normalizeChecksum(string(line))

	talker, typ, fields, err := splitSentence(raw)
	if err != nil {
		d.malformed.Add(1)
		metrics.IncSentence("", metrics.SentenceMalformed)
		return
	}
	if !supported(typ) {
		d.unsupported.Add(1)
		metrics.IncSentence(typ, metrics.SentenceUnsupported)
		return
	}

	s, err := nmea.Parse(raw)
	if err != nil {
		var notSupported *nmea.NotSupportedError
		if errors.As(err, &notSupported) {
			d.unsupported.Add(1)
			metrics.IncSentence(typ, metrics.SentenceUnsupported)
			return
		}
		// Receivers without a fix often leave numeric fields empty in ways
		// the typed parser rejects. Fall back to the raw status fields so a
		// lost fix still invalidates the location.
		if d.applyNoFix(typ, fields) {
			metrics.IncSentence(typ, metrics.SentenceParseFallback)
			d.sink.SentenceDone(typ)
			return
		}
		d.malformed.Add(1)
		metrics.IncSentence(typ, metrics.SentenceMalformed)
		d.log.Debug("nmea parse failed", "talker", talker, "type", typ, logging.Err(err))
		return
	}

	d.apply(s)
	metrics.IncSentence(typ, metrics.SentenceOK)
	d.sink.SentenceDone(typ)
}

func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	running, buffered := d.running, len(d.buf)
	d.mu.Unlock()
	return Stats{
		Running:     running,
		Buffered:    buffered,
		Sentences:   d.sentences.Load(),
		BadChecksum: d.badChecksum.Load(),
		Malformed:   d.malformed.Load(),
		Unsupported: d.unsupported.Load(),
		Oversized:   d.oversized.Load(),
		DroppedIdle: d.droppedIdle.Load(),
	}
}

// verifyChecksum checks the XOR of every byte between '$' and '*' against
// the two hex digits that follow '*'.
func verifyChecksum(line []byte) error {
	if len(line) == 0 || line[0] != '$' {
		return errors.New("nmea: missing '$'")
	}
	star := bytes.LastIndexByte(line, '*')
	if star == -1 {
		return ErrMissingChecksum
	}
	ck := bytes.TrimSpace(line[star+1:])
	if len(ck) != 2 {
		return errors.New("nmea: checksum must be two hex digits")
	}
	want := make([]byte, 1)
	if _, err := hex.Decode(want, ck); err != nil {
		return errors.New("nmea: bad checksum digits")
	}
	if got := Checksum(line[1:star]); got != want[0] {
		return ErrBadChecksum
	}
	return nil
}

// Checksum is the NMEA XOR over body (the bytes between '$' and '*').
func Checksum(body []byte) byte {
	var sum byte
	for _, c := range body {
		sum ^= c
	}
	return sum
}

func normalizeChecksum(s string) string {
	star := strings.LastIndexByte(s, '*')
	if star == -1 {
		return s
	}
	return s[:star+1] + strings.ToUpper(strings.TrimSpace(s[star+1:]))
}

// splitSentence breaks a checksum-verified sentence into its talker, type
// and data fields.
func splitSentence(raw string) (talker, typ string, fields []string, err error) {
	body := strings.TrimPrefix(raw, "$")
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		body = body[:star]
	}
	parts := strings.Split(body, ",")
	talker, typ, err = nmea.ParsePrefix(parts[0])
	if err != nil {
		return "", "", nil, err
	}
	return talker, typ, parts[1:], nil
}

func supported(typ string) bool {
	switch typ {
	case nmea.TypeGGA, nmea.TypeRMC, nmea.TypeGLL, nmea.TypeGNS,
		nmea.TypeVTG, TypeGST, nmea.TypeGSA, nmea.TypeGSV:
		return true
	}
	return false
}
