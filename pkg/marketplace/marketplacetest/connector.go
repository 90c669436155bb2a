// Package marketplacetest provides an in-memory marketplace for specs.
package marketplacetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lisanmuaddib/replydesk/pkg/db/models"
	"github.com/lisanmuaddib/replydesk/pkg/marketplace"
)

// SentReply records one SendReply call
type SentReply struct {
	SellerID   string
	Channel    models.Channel
	ExternalID string
	Text       string
}

type entry struct {
	item marketplace.RawItem
	seq  int
}

type feedKey struct {
	seller  string
	channel models.Channel
}

// Connector is an in-memory marketplace. Cursors are update sequence numbers,
// so updated items reappear after a resumed cursor like an updated-since feed.
type Connector struct {
	mu      sync.Mutex
	feeds   map[feedKey]map[string]*entry
	seq     int
	sent    []SentReply
	calls   int
	listErr []error
	sendErr []error
	// SendHook runs inside SendReply before the reply is recorded
	SendHook func()
}

var _ marketplace.Connector = (*Connector)(nil)

// New creates an empty Connector
func New() *Connector {
	return &Connector{feeds: make(map[feedKey]map[string]*entry)}
}

// Put inserts or replaces an item, bumping its position in the feed
func (c *Connector) Put(sellerID string, channel models.Channel, items ...marketplace.RawItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := feedKey{sellerID, channel}
	if c.feeds[key] == nil {
		c.feeds[key] = make(map[string]*entry)
	}
	for _, item := range items {
		c.seq++
		c.feeds[key][item.ID] = &entry{item: item, seq: c.seq}
	}
}

// FailListNext makes the next len(errs) ListItems calls fail in order
func (c *Connector) FailListNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = append(c.listErr, errs...)
}

// FailSendNext makes the next len(errs) SendReply calls fail in order
func (c *Connector) FailSendNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = append(c.sendErr, errs...)
}

// Sent returns the replies accepted so far
func (c *Connector) Sent() []SentReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentReply(nil), c.sent...)
}

// ListCalls returns how many ListItems calls were made
func (c *Connector) ListCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// ListItems pages through the items of one answer state ordered by update sequence
func (c *Connector) ListItems(ctx context.Context, req marketplace.ListRequest) (marketplace.Page, error) {
	if err := ctx.Err(); err != nil {
		return marketplace.Page{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if len(c.listErr) > 0 {
		err := c.listErr[0]
		c.listErr = c.listErr[1:]
		return marketplace.Page{}, err
	}

	after := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return marketplace.Page{}, &marketplace.APIError{StatusCode: 400, Code: "bad_cursor", Message: req.Cursor}
		}
		after = n
	}

	var matching []*entry
	total := 0
	for _, e := range c.feeds[feedKey{req.SellerID, req.Channel}] {
		answered := req.State == marketplace.StateAnswered
		if e.item.Answered != answered {
			continue
		}
		total++
		if e.seq > after {
			matching = append(matching, e)
		}
	}
	sort.Slice(matching, func(i, j int) bool { return matching[i].seq < matching[j].seq })

	if req.PageSize > 0 && len(matching) > req.PageSize {
		matching = matching[:req.PageSize]
	}

	page := marketplace.Page{Total: total, NextCursor: strconv.Itoa(after)}
	for _, e := range matching {
		page.Items = append(page.Items, e.item)
		page.NextCursor = strconv.Itoa(e.seq)
	}
	return page, nil
}

// SendReply records the reply and marks the item answered
func (c *Connector) SendReply(ctx context.Context, sellerID string, channel models.Channel, externalID, text string) (marketplace.Ack, error) {
	if err := ctx.Err(); err != nil {
		return marketplace.Ack{}, err
	}
	if c.SendHook != nil {
		c.SendHook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.sendErr) > 0 {
		err := c.sendErr[0]
		c.sendErr = c.sendErr[1:]
		return marketplace.Ack{}, err
	}

	c.sent = append(c.sent, SentReply{SellerID: sellerID, Channel: channel, ExternalID: externalID, Text: text})
	if e, ok := c.feeds[feedKey{sellerID, channel}][externalID]; ok {
		c.seq++
		e.item.Answered = true
		e.item.AnswerText = text
		e.seq = c.seq
	}
	return marketplace.Ack{ReplyID: fmt.Sprintf("reply-%d", len(c.sent)), AcceptedAt: time.Now().UTC()}, nil
}
