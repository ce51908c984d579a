package cache

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/greendrake/hlsstream/cache/packet"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	LoginTimeout = 5 * time.Second
	WriteTimeout = 5 * time.Second
)

// Store is the in-memory mapping. Values are kept encoded.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Update upserts all entries under one lock.
func (s *Store) Update(entries map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range entries {
		s.data[k] = v
	}
}

func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type Server struct {
	Addr   string
	Secret string
	Store  *Store

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(addr, secret string) *Server {
	return &Server{
		Addr:   addr,
		Secret: secret,
		Store:  NewStore(),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is done, then closes every connection
// and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()
	log.Printf("Marker cache listening on %v", ln.Addr())

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.serveConn(conn)
		}()
	}
}

// Listener address, valid once Serve has started.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

type session struct {
	conn    net.Conn
	id      int32
	name    string
	sendSeq uint32
}

func (ss *session) send(code packet.Code, body any) error {
	data, err := msgpack.Marshal(body)
	if err != nil {
		return err
	}
	ss.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	err = packet.Write(ss.conn, packet.Header{
		SessionId:      ss.id,
		SequenceNumber: ss.sendSeq,
		Code:           code,
	}, data)
	ss.sendSeq++
	return err
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	ss, err := s.login(conn)
	if err != nil {
		log.Printf("Marker cache: login from %v failed: %v", conn.RemoteAddr(), err)
		return
	}
	// sessions stay open for the lifetime of the client process
	conn.SetReadDeadline(time.Time{})
	for {
		p, err := packet.Read(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("Marker cache: session %v: %v", ss.name, err)
			}
			return
		}
		if p.Header.SessionId != ss.id {
			ss.send(packet.ERROR_RSP, statusResponse{Ret: statusUserIsNotLoggedIn, Msg: statusCodes[statusUserIsNotLoggedIn]})
			return
		}
		if err := s.handle(ss, p); err != nil {
			log.Printf("Marker cache: session %v: %v", ss.name, err)
			return
		}
	}
}

func (s *Server) login(conn net.Conn) (*session, error) {
	ss := &session{conn: conn}
	nonce := make([]byte, challengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	if err := ss.send(packet.CHALLENGE, challengeBody{Nonce: nonce}); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(LoginTimeout))
	p, err := packet.Read(conn)
	if err != nil {
		return nil, err
	}
	if p.Header.Code != packet.LOGIN_REQ {
		ss.send(packet.ERROR_RSP, statusResponse{Ret: statusUserIsNotLoggedIn, Msg: statusCodes[statusUserIsNotLoggedIn]})
		return nil, fmt.Errorf("expected login, got code %d", p.Header.Code)
	}
	var req loginRequest
	if err := msgpack.Unmarshal(p.Data, &req); err != nil {
		return nil, err
	}
	if !checkDigest(s.Secret, nonce, req.Digest) {
		ss.send(packet.LOGIN_RSP, loginResponse{Ret: statusPasswordIsIncorrect})
		return nil, errors.New(statusCodes[statusPasswordIsIncorrect])
	}
	sid := uuid.New()
	ss.id = int32(sid.ID())
	ss.name = req.Client + " " + sid.String()
	if err := ss.send(packet.LOGIN_RSP, loginResponse{Ret: statusOK, SessionID: sid.String()}); err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *Server) handle(ss *session, p *packet.Packet) error {
	switch p.Header.Code {
	case packet.KEEPALIVE_REQ:
		return ss.send(packet.KEEPALIVE_RSP, statusResponse{Ret: statusOK})
	case packet.UPDATE_REQ:
		var req updateRequest
		if err := msgpack.Unmarshal(p.Data, &req); err != nil {
			return ss.send(packet.ERROR_RSP, statusResponse{Ret: statusUnknownError, Msg: err.Error()})
		}
		s.Store.Update(req.Entries)
		return ss.send(packet.UPDATE_RSP, statusResponse{Ret: statusOK})
	case packet.GET_REQ:
		var req getRequest
		if err := msgpack.Unmarshal(p.Data, &req); err != nil {
			return ss.send(packet.ERROR_RSP, statusResponse{Ret: statusUnknownError, Msg: err.Error()})
		}
		v, ok := s.Store.Get(req.Key)
		return ss.send(packet.GET_RSP, getResponse{Ret: statusOK, Found: ok, Value: v})
	default:
		return ss.send(packet.ERROR_RSP, statusResponse{Ret: statusRequestNotPermitted, Msg: statusCodes[statusRequestNotPermitted]})
	}
}
