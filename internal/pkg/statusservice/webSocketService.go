package statusservice

import (
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

// DefaultIdleTimeout drops a subscription without any client message for that long
const DefaultIdleTimeout = time.Hour

// WsConn is interface for websocket handling in status service
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// subscriber serializes writes, a websocket allows one concurrent writer
type subscriber struct {
	conn WsConn
	lock sync.Mutex
}

func (s *subscriber) write(v interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conn.WriteJSON(v)
}

// Subscriptions keeps websocket connections by consultation ID
type Subscriptions struct {
	byID    map[string]map[*subscriber]struct{}
	byConn  map[WsConn]*subscriber
	ids     map[*subscriber]string
	lock    sync.Mutex
	timeout time.Duration
}

// NewSubscriptions creates the keeper, idle <= 0 means DefaultIdleTimeout
func NewSubscriptions(idle time.Duration) *Subscriptions {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Subscriptions{byID: map[string]map[*subscriber]struct{}{}, byConn: map[WsConn]*subscriber{},
		ids: map[*subscriber]string{}, timeout: idle}
}

// HandleConnection reads consultation IDs from conn until it is closed or idle,
// the last received ID is the one the connection is subscribed to
func (s *Subscriptions) HandleConnection(conn WsConn) error {
	defer s.remove(conn)
	defer conn.Close()
	readCh := make(chan string)
	go func() {
		defer close(readCh)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				goapp.Log.Debug().Err(err).Msg("ws read end")
				return
			}
			if msg := strings.TrimSpace(string(message)); msg != "" {
				readCh <- msg
			}
		}
	}()

	ta := time.After(s.timeout)
	for {
		select {
		case <-ta:
			goapp.Log.Debug().Msg("ws idle, close")
			return nil
		case id, ok := <-readCh:
			if !ok {
				return nil
			}
			s.subscribe(conn, id)
			ta = time.After(s.timeout)
		}
	}
}

func (s *Subscriptions) subscribe(conn WsConn, id string) {
	goapp.Log.Info().Str("ID", goapp.Sanitize(id)).Msg("subscribe")
	s.lock.Lock()
	defer s.lock.Unlock()
	sub := s.removeNoSync(conn)
	if sub == nil {
		sub = &subscriber{conn: conn}
	}
	s.byConn[conn] = sub
	s.ids[sub] = id
	subs, ok := s.byID[id]
	if !ok {
		subs = map[*subscriber]struct{}{}
		s.byID[id] = subs
	}
	subs[sub] = struct{}{}
	goapp.Log.Debug().Int("active", len(s.byConn)).Send()
}

func (s *Subscriptions) remove(conn WsConn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.removeNoSync(conn)
	delete(s.byConn, conn)
	goapp.Log.Debug().Int("active", len(s.byConn)).Msg("ws removed")
}

// removeNoSync unlinks conn from its ID and returns its subscriber
func (s *Subscriptions) removeNoSync(conn WsConn) *subscriber {
	sub, ok := s.byConn[conn]
	if !ok {
		return nil
	}
	id := s.ids[sub]
	if subs, ok := s.byID[id]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(s.byID, id)
		}
	}
	delete(s.ids, sub)
	return sub
}

// Count returns the number of connections subscribed to id
func (s *Subscriptions) Count(id string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.byID[id])
}

// Send writes v to every connection subscribed to id and returns the number of successful writes
func (s *Subscriptions) Send(id string, v interface{}) int {
	s.lock.Lock()
	subs := make([]*subscriber, 0, len(s.byID[id]))
	for sub := range s.byID[id] {
		subs = append(subs, sub)
	}
	s.lock.Unlock()

	res := 0
	for _, sub := range subs {
		if err := sub.write(v); err != nil {
			goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't write to ws")
			continue
		}
		res++
	}
	return res
}
