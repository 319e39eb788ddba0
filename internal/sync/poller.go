// Package sync polls a mailbox and reports summaries that appear
// between polls.
package sync

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/model"
)

// SyncState represents the current state of the poller.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	}
	return fmt.Sprintf("SyncState(%d)", int(s))
}

// SyncStatus describes the last poll.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// fetchTimeout is the maximum time allowed for a single poll.
const fetchTimeout = 30 * time.Second

const defaultInterval = 2 * time.Minute

// Poller lists one mailbox on an interval. Each poll sees at most
// backend.MaxSummaries summaries. Backends that list in ascending UID
// order (IMAP) return the oldest matches first, so once such an order
// is observed later polls are narrowed to UIDs above the highest one
// seen.
type Poller struct {
	lister   backend.EmailLister
	mailbox  string
	query    string
	interval time.Duration
	logger   *zap.Logger

	triggerCh chan struct{}

	mu        gosync.Mutex
	seen      map[string]bool
	maxUID    uint64
	ascending bool
	status    SyncStatus
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the time between polls.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the poller's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// New creates a poller for mailbox and query.
func New(lister backend.EmailLister, mailbox, query string, opts ...Option) *Poller {
	p := &Poller{
		lister:    lister,
		mailbox:   mailbox,
		query:     query,
		interval:  defaultInterval,
		logger:    zap.NewNop(),
		triggerCh: make(chan struct{}, 1),
		seen:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx ends or a poll fails. emit receives the
// summaries not reported before, in backend order; the first poll
// reports everything it sees. Run returns nil when ctx is canceled.
func (p *Poller) Run(ctx context.Context, emit func([]model.Email)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial fetch happens immediately.
	if err := p.poll(ctx, emit); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.triggerCh:
		}
		if err := p.poll(ctx, emit); err != nil {
			return err
		}
	}
}

// Refresh triggers an immediate poll without waiting for the ticker.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A poll is already pending.
	}
}

// Status returns the state of the last poll.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) poll(ctx context.Context, emit func([]model.Email)) error {
	p.setStatus(SyncRunning, nil)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	emails, err := p.lister.ListEmails(fetchCtx, p.mailbox, p.nextQuery())
	if err != nil {
		if ctx.Err() != nil {
			p.setStatus(SyncIdle, nil)
			return nil
		}
		p.setStatus(SyncError, err)
		return fmt.Errorf("polling %s: %w", p.mailbox, err)
	}

	p.mu.Lock()
	var fresh []model.Email
	for _, e := range emails {
		if p.seen[e.UID] {
			continue
		}
		p.seen[e.UID] = true
		fresh = append(fresh, e)
	}
	p.observe(emails)
	p.mu.Unlock()

	p.setStatus(SyncIdle, nil)
	p.logger.Debug("polled mailbox",
		zap.String("mailbox", p.mailbox),
		zap.Int("listed", len(emails)),
		zap.Int("new", len(fresh)),
	)

	if len(fresh) > 0 {
		emit(fresh)
	}
	return nil
}

// nextQuery returns the query for the next poll. "UID n:*" always
// matches the highest message even when n is past it, which the seen
// set filters out.
func (p *Poller) nextQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ascending || p.maxUID == 0 {
		return p.query
	}
	return strings.TrimSpace(fmt.Sprintf("UID %d:* %s", p.maxUID+1, p.query))
}

// observe records the highest UID and the listing order. Listings with
// a single summary or non-numeric UIDs leave the order unchanged.
// p.mu must be held.
func (p *Poller) observe(emails []model.Email) {
	uids := make([]uint64, 0, len(emails))
	for _, e := range emails {
		n, err := strconv.ParseUint(e.UID, 10, 32)
		if err != nil {
			return
		}
		uids = append(uids, n)
		if n > p.maxUID {
			p.maxUID = n
		}
	}
	if len(uids) < 2 {
		return
	}
	p.ascending = sort.SliceIsSorted(uids, func(i, j int) bool { return uids[i] < uids[j] })
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}
