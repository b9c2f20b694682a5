package stream

import (
	"context"
	"io"
	"time"

	"gnss-bridge/internal/replay"
	"gnss-bridge/internal/sim"
)

// pipeOpen runs produce in a goroutine and returns the read end of a pipe
// fed by it. Each write reaches the reader loop as one chunk. Closing the
// reader makes the next write fail, which ends produce.
func pipeOpen(produce func(ctx context.Context, w io.Writer) error) OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		go func() {
			err := produce(ctx, pw)
			if err == nil {
				err = io.EOF
			}
			_ = pw.CloseWithError(err)
		}()
		return pr, nil
	}
}

type ReplayConfig struct {
	Path  string
	Speed float64
	Loop  bool

	Options
}

// NewReplay plays a capture back with its recorded timing. The capture is
// loaded on every StartReading so a missing file is reported there.
func NewReplay(cfg ReplayConfig) *Stream {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	cfg.Options.Reconnect = false
	open := func(ctx context.Context) (io.ReadCloser, error) {
		recs, err := replay.ReadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return pipeOpen(func(ctx context.Context, w io.Writer) error {
			return replay.Play(ctx, recs, cfg.Speed, cfg.Loop, nil, func(chunk []byte) error {
				_, err := w.Write(chunk)
				return err
			})
		})(ctx)
	}
	return New("replay", cfg.Path, open, cfg.Options)
}

type SimConfig struct {
	Receiver sim.Receiver
	Interval time.Duration
	// Now is the time source; nil means time.Now.
	Now func() time.Time

	Options
}

// NewSim emits one rendered epoch per interval.
func NewSim(cfg SimConfig) *Stream {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Options.Reconnect = false
	open := pipeOpen(func(ctx context.Context, w io.Writer) error {
		t := time.NewTicker(cfg.Interval)
		defer t.Stop()
		for {
			for _, s := range cfg.Receiver.Sentences(cfg.Now()) {
				if _, err := io.WriteString(w, s); err != nil {
					return err
				}
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	})
	return New("sim", "", open, cfg.Options)
}
