// Package sync implements the per-session synchronization actor: it merges
// remote updates from a document's log into local state and batches local
// edits for submission. One Client per connected editing session.
package sync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cesarh1094/chotion/internal/access"
	"github.com/cesarh1094/chotion/internal/document/model"
)

// Log is the client's view of one document's update log, already bound to
// the document and the caller's capability.
type Log interface {
	// Append submits one payload and returns the assigned seq.
	Append(payload []byte, clientID string) (int64, error)
	// ReadAfter returns updates with seq > afterSeq in seq order. A zero
	// limit means the server default page size.
	ReadAfter(afterSeq int64, limit int) ([]model.Update, error)
}

// FlushState makes the outbound phase explicit: a debounce fire while a
// flush is in progress leaves the buffer alone for the next cycle.
type FlushState int

const (
	FlushIdle FlushState = iota
	FlushFlushing
)

const (
	// DefaultDebounce is the window local edits are batched over.
	DefaultDebounce = 50 * time.Millisecond
	// DefaultTeardownWait bounds the best-effort final flush on teardown.
	DefaultTeardownWait = 2 * time.Second
)

type Config struct {
	DocID  string
	Author access.Identity

	// ClientID distinguishes this replica's own writes from remote ones.
	// Minted when empty.
	ClientID string

	// ReadOnly sessions never arm the outbound path.
	ReadOnly bool

	Engine Engine
	Log    Log

	// Watermark resumes from a checkpoint; zero starts from the beginning.
	Watermark int64

	// OnRemote fires after a remote update merges. Echoes of this
	// replica's own writes are suppressed and never reach it.
	OnRemote func(u model.Update)

	Debounce     time.Duration
	TeardownWait time.Duration
	Logger       *zap.SugaredLogger
}

// Client is a single-threaded cooperative actor: Run owns all state; Edit,
// Deliver and Poll only feed its channels and are safe from any goroutine.
type Client struct {
	cfg       Config
	watermark atomic.Int64

	// owned by the Run goroutine
	pending    [][]byte
	inFlight   []byte
	flushState FlushState

	edits      chan []byte
	deliveries chan []model.Update
	flushDone  chan error
	stopped    chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = ulid.Make().String()
	}
	if cfg.Engine == nil {
		cfg.Engine = RelayEngine{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.TeardownWait <= 0 {
		cfg.TeardownWait = DefaultTeardownWait
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	c := &Client{
		cfg:        cfg,
		edits:      make(chan []byte, 64),
		deliveries: make(chan []model.Update, 16),
		flushDone:  make(chan error, 1),
		stopped:    make(chan struct{}),
	}
	c.watermark.Store(cfg.Watermark)
	return c
}

func (c *Client) ClientID() string { return c.cfg.ClientID }

// Watermark is the highest seq this session has merged.
func (c *Client) Watermark() int64 { return c.watermark.Load() }

// Edit queues one local delta. Edits arriving while a flush is in flight
// buffer for the next debounce cycle; they are never blocked on the store
// round trip and never dropped.
func (c *Client) Edit(delta []byte) {
	if c.cfg.ReadOnly || len(delta) == 0 {
		return
	}
	select {
	case c.edits <- delta:
	case <-c.stopped:
	}
}

// TryDeliver queues the batch without blocking and reports whether it was
// accepted. Callers that get false should schedule a Poll; polls read
// contiguously from the watermark, so a refused delivery is never lost.
func (c *Client) TryDeliver(ups []model.Update) bool {
	if len(ups) == 0 {
		return true
	}
	select {
	case c.deliveries <- ups:
		return true
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// Deliver hands a batch of committed updates to the inbound path.
func (c *Client) Deliver(ups []model.Update) {
	if len(ups) == 0 {
		return
	}
	select {
	case c.deliveries <- ups:
	case <-c.stopped:
	}
}

// Poll reads the log tail past the watermark and queues it for merging.
func (c *Client) Poll() error {
	ups, err := c.cfg.Log.ReadAfter(c.Watermark(), 0)
	if err != nil {
		return err
	}
	c.Deliver(ups)
	return nil
}

// Run drives the session until ctx is canceled. Inbound merge and outbound
// flush are two phases of this one loop and never execute concurrently.
func (c *Client) Run(ctx context.Context) {
	defer close(c.stopped)

	c.catchUp()

	timer := time.NewTimer(c.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var timerC <-chan time.Time

	for {
		select {
		case delta := <-c.edits:
			c.pending = append(c.pending, delta)
			if timerC == nil {
				timer.Reset(c.cfg.Debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			c.flush()

		case ups := <-c.deliveries:
			c.merge(ups)

		case err := <-c.flushDone:
			c.flushState = FlushIdle
			if err != nil {
				c.cfg.Logger.Warnf("flush failed for doc %s, re-buffering: %v", c.cfg.DocID, err)
				c.pending = append([][]byte{c.inFlight}, c.pending...)
			}
			c.inFlight = nil
			if len(c.pending) > 0 && timerC == nil {
				timer.Reset(c.cfg.Debounce)
				timerC = timer.C
			}

		case <-ctx.Done():
			timer.Stop()
			c.teardown()
			return
		}
	}
}

// catchUp pages through the log from the watermark before the loop starts.
func (c *Client) catchUp() {
	if c.cfg.Log == nil {
		return
	}
	for {
		before := c.Watermark()
		ups, err := c.cfg.Log.ReadAfter(before, 0)
		if err != nil {
			c.cfg.Logger.Warnf("catch-up read failed for doc %s: %v", c.cfg.DocID, err)
			return
		}
		if len(ups) == 0 {
			return
		}
		c.merge(ups)
		if c.Watermark() == before {
			return
		}
	}
}

// merge applies one delivery batch. Updates at or below the watermark are
// duplicates and skipped; updates from this replica's own clientId advance
// the watermark without re-merging.
func (c *Client) merge(ups []model.Update) {
	mark := c.watermark.Load()
	for _, u := range ups {
		if u.Seq <= mark {
			continue
		}
		if u.ClientID != c.cfg.ClientID {
			if err := c.cfg.Engine.ApplyRemote(u.Payload); err != nil {
				// Stop before advancing past the failure so the next
				// poll retries it.
				c.cfg.Logger.Warnf("merge failed for doc %s seq %d: %v", c.cfg.DocID, u.Seq, err)
				break
			}
			if c.cfg.OnRemote != nil {
				c.cfg.OnRemote(u)
			}
		}
		mark = u.Seq
	}
	c.watermark.Store(mark)
}

// flush coalesces the buffer and submits it. The append round trip runs in
// its own goroutine so edits keep buffering while it is in flight; the
// result comes back through flushDone.
func (c *Client) flush() {
	if c.flushState == FlushFlushing || len(c.pending) == 0 {
		return
	}
	payload, err := c.cfg.Engine.MergePayloads(c.pending)
	if err != nil {
		// Keep the buffer; the next edit re-arms the timer.
		c.cfg.Logger.Errorf("coalesce failed for doc %s: %v", c.cfg.DocID, err)
		return
	}
	c.pending = nil
	c.inFlight = payload
	c.flushState = FlushFlushing

	go func() {
		_, err := c.cfg.Log.Append(payload, c.cfg.ClientID)
		c.flushDone <- err
	}()
}

// teardown waits out an in-flight flush and makes one best-effort attempt
// to submit whatever is still buffered, bounded by TeardownWait. Errors
// here are logged and swallowed; teardown always completes.
func (c *Client) teardown() {
	deadline := time.NewTimer(c.cfg.TeardownWait)
	defer deadline.Stop()

	// Pull in edits that were queued but not yet seen by the loop.
drain:
	for {
		select {
		case delta := <-c.edits:
			c.pending = append(c.pending, delta)
		default:
			break drain
		}
	}

	if c.flushState == FlushFlushing {
		select {
		case err := <-c.flushDone:
			if err != nil {
				c.pending = append([][]byte{c.inFlight}, c.pending...)
			}
		case <-deadline.C:
			return
		}
	}
	if len(c.pending) == 0 {
		return
	}

	payload, err := c.cfg.Engine.MergePayloads(c.pending)
	if err != nil {
		c.cfg.Logger.Errorf("final coalesce failed for doc %s: %v", c.cfg.DocID, err)
		return
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.cfg.Log.Append(payload, c.cfg.ClientID)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			c.cfg.Logger.Warnf("final flush failed for doc %s: %v", c.cfg.DocID, err)
		}
	case <-deadline.C:
	}
}
