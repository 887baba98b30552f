package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"sync"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
)

// page is the daemon side of one connected page instance. It provides the
// bridge with the page URL and turns bridge output into events on the wire.
type page struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex

	urlMu sync.RWMutex
	url   string
}

func newPage(id string, conn net.Conn) *page {
	return &page{id: id, conn: conn}
}

func (p *page) setURL(u string) {
	p.urlMu.Lock()
	p.url = u
	p.urlMu.Unlock()
}

// CurrentURL returns the URL from the latest navigate message.
func (p *page) CurrentURL(context.Context) (string, bool) {
	p.urlMu.RLock()
	defer p.urlMu.RUnlock()
	return p.url, p.url != ""
}

// PostMessage forwards a serialized response to the page script.
func (p *page) PostMessage(text string) {
	p.send(passbridge.Event{Type: passbridge.EventResponse, Data: json.RawMessage(text)})
}

func (p *page) OnCredentialsAvailable(u string, creds []autofill.Credential, trigger autofill.Trigger) {
	logins := make([]passbridge.Login, len(creds))
	for i, c := range creds {
		logins[i] = fromCredential(c)
	}
	p.send(passbridge.Event{
		Type:    passbridge.EventCallback,
		Name:    passbridge.CallbackCredentialsAvailable,
		URL:     u,
		Logins:  logins,
		Trigger: string(trigger),
	})
}

func (p *page) NoCredentialsAvailable(u string) {
	p.send(passbridge.Event{Type: passbridge.EventCallback, Name: passbridge.CallbackNoCredentialsAvailable, URL: u})
}

func (p *page) OnGeneratedPasswordAvailable(u, username, password string) {
	p.send(passbridge.Event{
		Type:     passbridge.EventCallback,
		Name:     passbridge.CallbackGeneratedPasswordAvailable,
		URL:      u,
		Username: username,
		Password: password,
	})
}

func (p *page) OnCredentialsAvailableToSave(u string, c autofill.Credential) {
	p.send(passbridge.Event{
		Type:   passbridge.EventCallback,
		Name:   passbridge.CallbackCredentialsAvailableToSave,
		URL:    u,
		Logins: []passbridge.Login{fromCredential(c)},
	})
}

func (p *page) OnCredentialsSaved(c autofill.Credential) {
	p.send(passbridge.Event{
		Type:   passbridge.EventCallback,
		Name:   passbridge.CallbackCredentialsSaved,
		Logins: []passbridge.Login{fromCredential(c)},
	})
}

func (p *page) sendError(code, msg string) {
	p.send(passbridge.Event{Type: passbridge.EventError, Error: &passbridge.Error{Code: code, Message: msg}})
}

func (p *page) send(ev passbridge.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "page", p.id, "type", ev.Type, "error", err)
		return
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.conn.Write(append(data, '\n')); err != nil {
		slog.Debug("failed to write event", "page", p.id, "type", ev.Type, "error", err)
	}
}

// staticCapabilities grants inject and save from configuration, except on
// blocked domains and their subdomains.
type staticCapabilities struct {
	inject  bool
	save    bool
	blocked []string
}

func newStaticCapabilities(cfg passbridge.AutofillConfig) *staticCapabilities {
	blocked := make([]string, 0, len(cfg.BlockedDomains))
	for _, d := range cfg.BlockedDomains {
		d = strings.ToLower(strings.Trim(strings.TrimSpace(d), "."))
		if d != "" {
			blocked = append(blocked, d)
		}
	}
	return &staticCapabilities{inject: cfg.Inject, save: cfg.Save, blocked: blocked}
}

func (c *staticCapabilities) CanInject(_ context.Context, u string) bool {
	return c.inject && !c.isBlocked(u)
}

func (c *staticCapabilities) CanSave(_ context.Context, u string) bool {
	return c.save && !c.isBlocked(u)
}

func (c *staticCapabilities) isBlocked(u string) bool {
	if len(c.blocked) == 0 {
		return false
	}
	host := autofill.Host(u)
	if host == "" {
		return false
	}
	for _, d := range c.blocked {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
