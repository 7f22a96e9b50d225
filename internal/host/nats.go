package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/courier-dev/courier/agent"
)

// natsQueue is the queue group shared by hosts subscribed to the same
// subject, so each envelope is dispatched by exactly one of them.
const natsQueue = "courier"

func (s *Service) bindNATS() error {
	nc, err := nats.Connect(s.cfg.NATSURL,
		nats.Name("courier-host"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[Host] NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Host] NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[Host] NATS connection closed")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", s.cfg.NATSURL, err)
	}

	sub, err := nc.QueueSubscribe(s.cfg.NATSSubject, natsQueue, s.handleNATSMsg)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.cfg.NATSSubject, err)
	}

	s.mu.Lock()
	s.natsConn = nc
	s.natsSub = sub
	s.mu.Unlock()

	log.Printf("[Host] NATS subscribed to %s (queue %s)", s.cfg.NATSSubject, natsQueue)
	return nil
}

func (s *Service) handleNATSMsg(msg *nats.Msg) {
	var env agent.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("[Host] NATS envelope decode failed: %v", err)
		s.respondNATS(msg, &wireReply{Status: "rejected", Error: fmt.Sprintf("decode envelope: %v", err)})
		return
	}

	result, err := s.Submit(context.Background(), &env)
	if err != nil {
		reply := &wireReply{Status: "rejected", Error: err.Error()}
		if errors.Is(err, ErrDropped) {
			reply.Status = "dropped"
			reply.Error = ""
		}
		s.respondNATS(msg, reply)
		return
	}

	s.respondNATS(msg, replyFromResult(result))
}

func (s *Service) respondNATS(msg *nats.Msg, reply *wireReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		log.Printf("[Host] NATS reply encode failed: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Printf("[Host] NATS respond failed: %v", err)
	}
}
