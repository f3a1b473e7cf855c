package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/session"
	"wallandshadow.io/internal/persistence/store"
	"wallandshadow.io/internal/protocol"
)

func main() {
	var (
		url          = flag.String("url", "ws://localhost:8080", "server base url")
		mapID        = flag.String("map", "", "map id")
		user         = flag.String("user", "", "acting user id")
		submitPath   = flag.String("submit", "", "JSON batch ({\"chs\":[...]}) to apply once the feed has settled (optional)")
		settle       = flag.Duration("settle", 500*time.Millisecond, "quiet period on the feed before submitting")
		connectivity = flag.Bool("connectivity", true, "keep player moves within walled regions")
		follow       = flag.Bool("follow", false, "keep following the feed after submitting")
		verbose      = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if *mapID == "" || *user == "" {
		logger.Fatal("-map and -user are required")
	}

	var edit []change.Change
	if *submitPath != "" {
		raw, err := os.ReadFile(*submitPath)
		if err != nil {
			logger.Fatalf("read %s: %v", *submitPath, err)
		}
		b, err := change.Decode(raw)
		if err != nil {
			logger.Fatalf("decode %s: %v", *submitPath, err)
		}
		edit = b.Changes
	}

	feedURL := strings.TrimRight(*url, "/") + "/v1/maps/" + *mapID + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(feedURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		MapID:           *mapID,
		UserID:          *user,
		MaxQueue:        256,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := readWelcome(conn, &welcome); err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	log := logger.WithFields(logrus.Fields{"map_id": welcome.Map.ID, "session_id": welcome.SessionID})
	log.Infof("joined %q owned by %s (%s grid)", welcome.Map.Name, welcome.Map.Owner, welcome.Map.Ty)

	sess := session.New(welcome.Map, *user, session.Config{Connectivity: *connectivity, Logger: log})
	fc := &feedClient{conn: conn, sess: sess, log: log, activity: make(chan struct{}, 1), acks: make(chan protocol.AckMsg, 16)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- fc.read() }()

	if len(edit) > 0 {
		if !fc.waitQuiet(ctx, *settle) {
			return
		}
		if err := fc.submit(ctx, edit); err != nil {
			log.WithError(err).Error("submit")
		}
		if !*follow {
			report(log, sess)
			return
		}
	}

	select {
	case <-ctx.Done():
	case err := <-done:
		if err != nil {
			log.WithError(err).Warn("feed ended")
		}
	}
	report(log, sess)
}

func readWelcome(conn *websocket.Conn, w *protocol.WelcomeMsg) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeWelcome:
		return json.Unmarshal(msg, w)
	case protocol.TypeError:
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		return errors.New(e.Code + ": " + e.Message)
	}
	return errors.New("unexpected " + base.Type)
}

type feedClient struct {
	conn     *websocket.Conn
	sess     *session.Session
	log      logrus.FieldLogger
	activity chan struct{}
	acks     chan protocol.AckMsg
}

func (fc *feedClient) read() error {
	for {
		_, msg, err := fc.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeChanges:
			var cm protocol.ChangesMsg
			if err := json.Unmarshal(msg, &cm); err != nil {
				continue
			}
			b, err := change.Decode(cm.Batch)
			if err != nil {
				fc.log.WithError(err).WithField("doc_id", cm.DocID).Warn("undecodable batch")
				continue
			}
			fc.sess.Receive(store.Doc{ID: cm.DocID, Seq: cm.Seq, Batch: b})
			select {
			case fc.activity <- struct{}{}:
			default:
			}
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if ack.Accepted {
				fc.sess.Ack(ack.AckFor)
			} else {
				fc.log.WithFields(logrus.Fields{"code": ack.Code, "edit_id": ack.AckFor}).Warn(ack.Message)
				fc.sess.Fail(ack.AckFor)
			}
			fc.acks <- ack
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return errors.New(e.Code + ": " + e.Message)
		}
	}
}

func (fc *feedClient) waitQuiet(ctx context.Context, quiet time.Duration) bool {
	t := time.NewTimer(quiet)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-fc.activity:
			t.Reset(quiet)
		case <-t.C:
			return true
		}
	}
}

func (fc *feedClient) submit(ctx context.Context, chs []change.Change) error {
	e, err := fc.sess.Apply(chs)
	if err != nil {
		return err
	}
	if e.Warn {
		fc.log.Warn("map is close to its object limit")
	}
	raw, err := change.Encode(e.Batch)
	if err != nil {
		return err
	}
	if err := fc.conn.WriteJSON(protocol.SubmitMsg{
		Type:            protocol.TypeSubmit,
		ProtocolVersion: protocol.Version,
		ReqID:           e.ID,
		Batch:           raw,
	}); err != nil {
		fc.sess.Fail(e.ID)
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ack := <-fc.acks:
			if ack.AckFor != e.ID {
				continue
			}
			if !ack.Accepted {
				return errors.New(ack.Code)
			}
			fc.log.WithField("edit_id", e.ID).Info("edit accepted")
			return nil
		}
	}
}

func report(log logrus.FieldLogger, sess *session.Session) {
	log.WithFields(logrus.Fields{
		"objects": sess.ObjectCount(),
		"pending": len(sess.Pending()),
		"resyncs": sess.Resyncs(),
	}).Info("session state")
}
