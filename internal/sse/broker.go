// Package sse streams site change notifications to open pages.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types sent to clients.
const (
	TypeSiteUpdated = "site.updated"
	TypePageUpdated = "page.updated"
)

// maxPageEvents caps per-path events for one change; larger changes only
// announce site.updated.
const maxPageEvents = 50

// retryMillis is the reconnect delay suggested to browsers.
const retryMillis = 2000

// Event is one message on the stream. Events with a zero Generation carry no
// id line.
type Event struct {
	Type       string `json:"type"`
	Generation uint64 `json:"-"`
	Data       any    `json:"data"`
}

func (e Event) frame() ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	if e.Generation == 0 {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), nil
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", e.Generation, e.Type, payload)), nil
}

type subscription struct {
	ch chan []byte
	// seen is the generation the client last observed; 0 when unknown.
	seen uint64
}

type change struct {
	generation uint64
	paths      []string
}

// Broker fans change events out to subscribers. One goroutine owns the
// subscriber set and the current generation; every public method talks to
// it over channels.
type Broker struct {
	keepAlive time.Duration

	join   chan subscription
	leave  chan chan []byte
	events chan Event
	change chan change
	count  chan chan int

	generation atomic.Uint64
	stop       chan struct{}
	done       chan struct{}
	closed     atomic.Bool
}

// NewBroker starts a broker. Every keepAlive interval each subscriber gets a
// comment line so idle proxies keep the stream open.
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	b := &Broker{
		keepAlive: keepAlive,
		join:      make(chan subscription),
		leave:     make(chan chan []byte),
		events:    make(chan Event, 256),
		change:    make(chan change, 256),
		count:     make(chan chan int),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.done)

	subs := make(map[chan []byte]struct{})
	keepAlive := time.NewTicker(b.keepAlive)
	defer keepAlive.Stop()

	// A slow subscriber misses frames rather than stalling the others.
	deliver := func(raw []byte) {
		for ch := range subs {
			select {
			case ch <- raw:
			default:
			}
		}
	}
	emit := func(ev Event) {
		if raw, err := ev.frame(); err == nil {
			deliver(raw)
		}
	}

	for {
		select {
		case <-b.stop:
			for ch := range subs {
				close(ch)
			}
			return

		case s := <-b.join:
			subs[s.ch] = struct{}{}
			if cur := b.generation.Load(); s.seen != 0 && s.seen < cur {
				// Reconnected after missing at least one change.
				ev := Event{Type: TypeSiteUpdated, Generation: cur, Data: map[string]any{"generation": cur, "changed": 0}}
				if raw, err := ev.frame(); err == nil {
					s.ch <- raw
				}
			}

		case ch := <-b.leave:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case ev := <-b.events:
			emit(ev)

		case c := <-b.change:
			if c.generation > b.generation.Load() {
				b.generation.Store(c.generation)
			}
			if len(c.paths) <= maxPageEvents {
				for _, p := range c.paths {
					emit(Event{Type: TypePageUpdated, Data: map[string]string{"path": p}})
				}
			}
			emit(Event{Type: TypeSiteUpdated, Generation: c.generation, Data: map[string]any{
				"generation": c.generation,
				"changed":    len(c.paths),
			}})

		case <-keepAlive.C:
			if len(subs) > 0 {
				deliver([]byte(": keep-alive\n\n"))
			}

		case resp := <-b.count:
			resp <- len(subs)
		}
	}
}

// Close stops the broker and closes every subscriber channel. It is safe to
// call more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.done
}

// Generation is the newest generation announced so far.
func (b *Broker) Generation() uint64 { return b.generation.Load() }

// Subscribe registers a client that has not seen any generation.
func (b *Broker) Subscribe() chan []byte { return b.SubscribeFrom(0) }

// SubscribeFrom registers a client that last saw generation seen. If a newer
// generation was announced since, the channel starts with a site.updated
// frame. The returned channel is closed by Unsubscribe or Close.
func (b *Broker) SubscribeFrom(seen uint64) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- subscription{ch: ch, seen: seen}:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.done:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.done:
		return 0
	}
}

// Publish sends an arbitrary event to all clients.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// PublishChange announces a new index generation: one page.updated per
// changed source path, then site.updated carrying the generation as its id.
func (b *Broker) PublishChange(generation uint64, paths []string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.change <- change{generation: generation, paths: paths}:
	case <-b.done:
	}
}

// ServeHTTP streams events to one client (GET /_events). A browser that
// reconnects sends Last-Event-ID and is told to reload when it missed a
// generation.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	seen, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.SubscribeFrom(seen)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
