package scan

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"labflow/internal/acceptance"
)

// Enterer starts the waiting station records reached by a barcode.
// The lifecycle engine implements this interface.
type Enterer interface {
	EnterSample(ctx context.Context, barcode, sectionID, actingUserID string) ([]acceptance.StationRecord, error)
}

// Result is the outcome of one scan.
type Result struct {
	Event   Event
	Started []acceptance.StationRecord
	Err     error
}

// Summary counts the outcomes of a feed run.
type Summary struct {
	Scans      int
	Started    int
	NotFound   int
	NotWaiting int
	Failed     int
}

// Feed consumes scanner events and hands each scan to an [Enterer].
type Feed struct {
	enterer     Enterer
	parser      Parser
	defaultUser string
	logger      *slog.Logger
}

// NewFeed creates a Feed over enterer using the [DefaultParser].
func NewFeed(enterer Enterer) *Feed {
	return &Feed{
		enterer: enterer,
		parser:  NewParser(),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// SetParser replaces the feed parser.
func (f *Feed) SetParser(p Parser) {
	f.parser = p
}

// SetDefaultUser sets the user recorded for scans that carry none.
func (f *Feed) SetDefaultUser(userID string) {
	f.defaultUser = userID
}

// SetLogger configures the structured logger. A nil logger discards output.
func (f *Feed) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	f.logger = l
}

// Run processes the feed until it ends or ctx is cancelled.
//
// Scan failures are classified in the summary and passed to handle, which
// may be nil; they do not stop the feed. Run returns ctx.Err() when
// cancelled and the read error when the feed breaks off early.
func (f *Feed) Run(ctx context.Context, r io.Reader, handle func(Result)) (Summary, error) {
	var sum Summary
	events := f.parser.Parse(r)
	defer func() {
		// Let the parser goroutine finish if we stop early.
		go func() {
			for range events {
			}
		}()
	}()

	for {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return sum, nil
			}
			if ev.Err != nil {
				f.logger.Error("scanner feed broken", "scans", sum.Scans, "error", ev.Err)
				return sum, fmt.Errorf("read scanner feed after %d scan(s): %w", sum.Scans, ev.Err)
			}
			if ev.IsHeartbeat() {
				f.logger.Debug("scanner heartbeat", "station", ev.Station)
				continue
			}
			if !ev.IsScan() {
				f.logger.Debug("scanner event ignored", "type", ev.Type)
				continue
			}

			res := f.enter(ctx, ev)
			sum.add(res)
			if handle != nil {
				handle(res)
			}
		}
	}
}

func (f *Feed) enter(ctx context.Context, ev Event) Result {
	user := ev.UserID
	if user == "" {
		user = f.defaultUser
	}
	started, err := f.enterer.EnterSample(ctx, ev.Barcode, ev.SectionID, user)
	if err != nil {
		f.logger.Warn("scan refused",
			"barcode", ev.Barcode,
			"section", ev.SectionID,
			"kind", acceptance.KindOf(err),
			"error", err,
		)
	} else {
		f.logger.Info("scan accepted", "barcode", ev.Barcode, "started", len(started))
	}
	return Result{Event: ev, Started: started, Err: err}
}

func (s *Summary) add(res Result) {
	s.Scans++
	if res.Err == nil {
		s.Started += len(res.Started)
		return
	}
	switch acceptance.KindOf(res.Err) {
	case acceptance.KindNotFound:
		s.NotFound++
	case acceptance.KindNotWaiting:
		s.NotWaiting++
	default:
		s.Failed++
	}
}
