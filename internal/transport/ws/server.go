// Package ws serves the map change feed over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
	"wallandshadow.io/internal/metrics"
	"wallandshadow.io/internal/persistence/store"
	"wallandshadow.io/internal/protocol"
)

// MapStore is what the feed needs from the store.
type MapStore interface {
	GetMap(ctx context.Context, mapID string) (feature.Map, error)
	AddChanges(ctx context.Context, mapID, id string, b change.Batch) (store.Doc, error)
	Watch(ctx context.Context, mapID string, fn func(store.Doc) error) error
}

// Journal receives every accepted batch.
type Journal interface {
	Write(mapID string, d store.Doc) error
}

type Config struct {
	MaxQueue     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MapCacheTTL  time.Duration
}

func (c *Config) normalize() {
	if c.MaxQueue <= 0 {
		c.MaxQueue = 64
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MapCacheTTL <= 0 {
		c.MapCacheTTL = 30 * time.Second
	}
}

var errSlowConsumer = errors.New("feed subscriber fell behind")

type Server struct {
	st      MapStore
	journal Journal
	log     logrus.FieldLogger
	cfg     Config
	maps    *ristretto.Cache[string, feature.Map]

	upgrader websocket.Upgrader
}

func NewServer(st MapStore, journal Journal, logger logrus.FieldLogger, cfg Config) (*Server, error) {
	cfg.normalize()
	cache, err := ristretto.NewCache(&ristretto.Config[string, feature.Map]{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Server{
		st:      st,
		journal: journal,
		log:     logger,
		cfg:     cfg,
		maps:    cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Close() { s.maps.Close() }

// Map returns a map record, served from cache while fresh.
func (s *Server) Map(ctx context.Context, mapID string) (feature.Map, error) {
	if m, ok := s.maps.Get(mapID); ok {
		return m, nil
	}
	m, err := s.st.GetMap(ctx, mapID)
	if err != nil {
		return feature.Map{}, err
	}
	s.maps.SetWithTTL(mapID, m, 1, s.cfg.MapCacheTTL)
	return m, nil
}

// ForgetMap drops a cached map record after it was rewritten.
func (s *Server) ForgetMap(mapID string) { s.maps.Del(mapID) }

type conn struct {
	m   feature.Map
	uid string
	out chan []byte
	log logrus.FieldLogger
}

// Handler serves /v1/maps/{id}/feed. The HELLO message may also name the map
// when the route carries no id.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		c := s.handshake(r.Context(), ws, r.PathValue("id"))
		if c == nil {
			return
		}
		metrics.FeedSubscribers.Inc()
		defer metrics.FeedSubscribers.Dec()

		ctx, cancel := context.WithCancelCause(context.Background())
		defer cancel(nil)
		c.log.Info("feed opened")

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-c.out:
					_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel(err)
						return
					}
				}
			}
		}()

		// Feed goroutine.
		go func() {
			err := s.st.Watch(ctx, c.m.ID, func(d store.Doc) error { return s.forward(ctx, c, d) })
			if err != nil && ctx.Err() == nil {
				cancel(err)
				// Close and WriteControl are safe beside the writer goroutine.
				if errors.Is(err, errSlowConsumer) {
					_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.ErrSlowConsumer), time.Now().Add(time.Second))
				}
				_ = ws.Close()
			}
		}()

		// Reader loop.
		for {
			_ = ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			_, msg, err := ws.ReadMessage()
			if err != nil {
				cancel(err)
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeSubmit {
				continue
			}
			var sub protocol.SubmitMsg
			if err := json.Unmarshal(msg, &sub); err != nil {
				continue
			}
			ack := s.submit(ctx, c, sub)
			if !c.send(ctx, ack) {
				break
			}
		}
		c.log.WithField("cause", context.Cause(ctx)).Info("feed closed")
	}
}

func (s *Server) forward(ctx context.Context, c *conn, d store.Doc) error {
	raw, err := change.Encode(d.Batch)
	if err != nil {
		return err
	}
	b, err := json.Marshal(protocol.ChangesMsg{
		Type:            protocol.TypeChanges,
		ProtocolVersion: protocol.Version,
		DocID:           d.ID,
		Seq:             d.Seq,
		Batch:           raw,
	})
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errSlowConsumer
	}
}

func (c *conn) send(ctx context.Context, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) submit(ctx context.Context, c *conn, sub protocol.SubmitMsg) protocol.AckMsg {
	if sub.ProtocolVersion != protocol.Version {
		return protocol.NewAck(sub.ReqID, protocol.ErrProtoVersion, "bad protocol_version")
	}
	if _, err := ulid.ParseStrict(sub.ReqID); err != nil {
		return protocol.NewAck(sub.ReqID, protocol.ErrProtoBadRequest, "req_id must be a ULID")
	}
	b, err := change.Decode(sub.Batch)
	if err != nil {
		return protocol.NewAck(sub.ReqID, protocol.ErrBadRequest, err.Error())
	}
	if b.User != "" && b.User != c.uid {
		return protocol.NewAck(sub.ReqID, protocol.ErrNoPermission, "batch user does not match connection")
	}
	b.User = c.uid

	d, err := s.st.AddChanges(ctx, c.m.ID, sub.ReqID, b)
	switch {
	case errors.Is(err, store.ErrConflict):
		return protocol.NewAck(sub.ReqID, protocol.ErrConflict, "duplicate req_id")
	case errors.Is(err, store.ErrNotFound):
		return protocol.NewAck(sub.ReqID, protocol.ErrMapNotFound, "")
	case err != nil:
		c.log.WithError(err).Error("append changes")
		return protocol.NewAck(sub.ReqID, protocol.ErrInternal, "")
	}
	if s.journal != nil {
		if err := s.journal.Write(c.m.ID, d); err != nil {
			c.log.WithError(err).Warn("journal write")
		}
	}
	ack := protocol.NewAck(sub.ReqID, "", "")
	ack.Timestamp = d.Batch.Timestamp
	return ack
}

func (s *Server) handshake(ctx context.Context, ws *websocket.Conn, routeMapID string) *conn {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.closeWith(ws, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.closeWith(ws, protocol.ErrProtoBadRequest, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.closeWith(ws, protocol.ErrProtoVersion, "bad protocol_version")
		return nil
	}
	mapID := routeMapID
	if mapID == "" {
		mapID = hello.MapID
	}
	if hello.UserID == "" || mapID == "" || (hello.MapID != "" && hello.MapID != mapID) {
		s.closeWith(ws, protocol.ErrProtoBadRequest, "map_id and user_id required")
		return nil
	}
	m, err := s.Map(ctx, mapID)
	if errors.Is(err, store.ErrNotFound) {
		s.closeWith(ws, protocol.ErrMapNotFound, mapID)
		return nil
	}
	if err != nil {
		s.log.WithError(err).WithField("map_id", mapID).Error("load map")
		s.closeWith(ws, protocol.ErrInternal, "")
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 || maxQ > s.cfg.MaxQueue {
		maxQ = s.cfg.MaxQueue
	}
	sessionID := ulid.Make().String()
	c := &conn{
		m:   m,
		uid: hello.UserID,
		out: make(chan []byte, maxQ),
		log: s.log.WithFields(logrus.Fields{"map_id": m.ID, "uid": hello.UserID, "session_id": sessionID}),
	}
	if err := s.writeJSON(ws, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Map:             m,
	}); err != nil {
		return nil
	}
	return c
}

func (s *Server) closeWith(ws *websocket.Conn, code, message string) {
	_ = s.writeJSON(ws, protocol.NewError(code, message))
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code), time.Now().Add(time.Second))
}

func (s *Server) writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, b)
}
