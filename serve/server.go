package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
	"github.com/Paranoid-AF/passbridge/bridge"
	"github.com/Paranoid-AF/passbridge/memstore"
	"github.com/Paranoid-AF/passbridge/monitor"
)

// maxMessageBytes bounds a single inbound line.
const maxMessageBytes = 1 << 20

// Vault is the credential store the daemon serves from. Beyond what a bridge
// needs it can insert logins the user agreed to save.
type Vault interface {
	bridge.CredentialStore
	SaveCredentials(ctx context.Context, c autofill.Credential) (*autofill.Credential, error)
}

// Server listens on a Unix domain socket. Every connection is one page instance
// with its own bridge.
type Server struct {
	listener net.Listener
	sockPath string
	vault    Vault
	monitor  *monitor.Monitor
	caps     *staticCapabilities

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewServer creates a server backed by an in-memory vault.
func NewServer(sockPath string, cfg *passbridge.Config) (*Server, error) {
	return NewServerWithVault(sockPath, cfg, memstore.New())
}

// NewServerWithVault creates a server with a custom Vault.
func NewServerWithVault(sockPath string, cfg *passbridge.Config, vault Vault) (*Server, error) {
	if cfg == nil {
		cfg = passbridge.DefaultConfig()
	}

	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		listener: listener,
		sockPath: sockPath,
		vault:    vault,
		monitor:  monitor.New(cfg.Tracking.TTL()),
		caps:     newStaticCapabilities(cfg.Autofill),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections and handles requests.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.ctx.Err() != nil {
			s.mu.Unlock()
			conn.Close()
			return net.ErrClosed
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Close shuts down the server, drops every page, and removes the socket file.
func (s *Server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	s.mu.Lock()
	s.cancel()
	s.listener.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.monitor.Close()
	os.Remove(s.sockPath)
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	p := newPage(uuid.NewString(), conn)
	log := slog.With("page", p.id)

	b, err := bridge.New(s.ctx, bridge.Config{
		PageID:       p.id,
		Store:        s.vault,
		Capabilities: s.caps,
		URLs:         p,
		Monitor:      s.monitor,
		Callback:     p,
		Poster:       p,
	})
	if err != nil {
		log.Error("failed to create bridge", "error", err)
		return
	}
	defer func() {
		b.Close()
		s.monitor.ClearTrackingID(p.id)
		log.Debug("page detached")
	}()

	p.send(passbridge.Event{Type: passbridge.EventAttached, PageID: p.id})
	log.Debug("page attached")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
	for scanner.Scan() {
		s.dispatch(p, b, scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			log.Warn("connection read error", "error", err)
		}
		return
	}
	// The page stopped sending. Requests already dispatched still answer.
	b.Wait()
}

func (s *Server) dispatch(p *page, b *bridge.Bridge, raw []byte) {
	var msg passbridge.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("invalid message", "page", p.id, "error", err)
		p.sendError("invalid_message", err.Error())
		return
	}
	slog.Debug("message", "page", p.id, "type", msg.Type)

	switch msg.Type {
	case passbridge.TypeNavigate:
		p.setURL(msg.URL)

	case passbridge.TypeGetAutofillData:
		b.GetAutofillData(requestText(msg.Data))

	case passbridge.TypeStoreFormData:
		b.StoreFormData(requestText(msg.Data))

	case passbridge.TypeCancelRetrievingStoredLogins:
		b.CancelRetrievingStoredLogins()

	case passbridge.TypeInjectCredentials:
		if msg.Login == nil {
			p.sendError("invalid_message", "injectCredentials requires a login")
			return
		}
		b.InjectCredentials(toCredential(*msg.Login))

	case passbridge.TypeInjectNoCredentials:
		b.InjectNoCredentials()

	case passbridge.TypeAcceptGeneratedPassword:
		b.AcceptGeneratedPassword()

	case passbridge.TypeRejectGeneratedPassword:
		b.RejectGeneratedPassword()

	case passbridge.TypeSaveCredentials:
		s.saveCredentials(p, &msg)

	default:
		p.sendError("unknown_type", "unknown message type: "+msg.Type)
	}
}

// saveCredentials stores a login the user confirmed. An autogenerated login
// becomes the page's tracked auto-saved login.
func (s *Server) saveCredentials(p *page, msg *passbridge.Message) {
	if msg.Login == nil {
		p.sendError("invalid_message", "saveCredentials requires a login")
		return
	}
	c := toCredential(*msg.Login)
	if c.Domain == "" {
		c.Domain, _ = p.CurrentURL(s.ctx)
	}
	if c.Domain == "" {
		p.sendError("invalid_message", "saveCredentials requires a domain or a prior navigate")
		return
	}

	saved, err := s.vault.SaveCredentials(s.ctx, c)
	if err != nil {
		slog.Error("failed to save credentials", "page", p.id, "error", err)
		p.sendError("store_error", err.Error())
		return
	}
	if msg.Autogenerated {
		s.monitor.SetTrackingID(p.id, saved.ID)
	}
	slog.Info("saved credentials", "page", p.id, "login", saved.ID, "autogenerated", msg.Autogenerated)
	p.send(passbridge.Event{Type: passbridge.EventSaved, Logins: []passbridge.Login{fromCredential(*saved)}})
}

// requestText unwraps request data sent either as a JSON object or as a JSON
// string holding the page script's text.
func requestText(data json.RawMessage) string {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s
		}
	}
	return string(data)
}

func toCredential(l passbridge.Login) autofill.Credential {
	return autofill.Credential{
		ID:       l.ID,
		Domain:   l.Domain,
		Username: l.Username,
		Password: l.Password,
		Title:    l.Title,
	}
}

func fromCredential(c autofill.Credential) passbridge.Login {
	return passbridge.Login{
		ID:       c.ID,
		Domain:   c.Domain,
		Username: c.Username,
		Password: c.Password,
		Title:    c.Title,
	}
}
