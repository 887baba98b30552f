package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
	"github.com/Paranoid-AF/passbridge/memstore"
)

var testSocketCounter atomic.Int64

func newTestServer(t *testing.T, cfg *passbridge.Config, vault Vault) *Server {
	t.Helper()
	// Use /tmp directly to avoid macOS 104-char Unix socket path limit
	n := testSocketCounter.Add(1)
	sockPath := fmt.Sprintf("/tmp/passbridge-t%d.sock", n)
	srv, err := NewServerWithVault(sockPath, cfg, vault)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	go srv.Serve()
	return srv
}

// testClient is one page instance talking to the daemon.
type testClient struct {
	t       *testing.T
	conn    net.Conn
	scanner *bufio.Scanner
	pageID  string
}

func dialPage(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("unix", srv.sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn, scanner: bufio.NewScanner(conn)}
	ev := c.next()
	if ev.Type != passbridge.EventAttached {
		t.Fatalf("expected attached event, got %q", ev.Type)
	}
	if ev.PageID == "" {
		t.Fatal("expected a page id on the attached event")
	}
	c.pageID = ev.PageID
	return c
}

func (c *testClient) send(msg passbridge.Message) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatal(err)
	}
	c.sendRaw(string(data))
}

func (c *testClient) sendRaw(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) next() passbridge.Event {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if !c.scanner.Scan() {
		c.t.Fatalf("no event from server: %v", c.scanner.Err())
	}
	var ev passbridge.Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		c.t.Fatal(err)
	}
	return ev
}

func (c *testClient) navigate(url string) {
	c.send(passbridge.Message{Type: passbridge.TypeNavigate, URL: url})
}

func seedVault(t *testing.T, logins ...autofill.Credential) *memstore.Store {
	t.Helper()
	store := memstore.New()
	for _, l := range logins {
		if _, err := store.SaveCredentials(context.Background(), l); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestAttachedEventsHaveDistinctPageIDs(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())

	a := dialPage(t, srv)
	b := dialPage(t, srv)
	if a.pageID == b.pageID {
		t.Errorf("expected distinct page ids, both were %s", a.pageID)
	}
}

func TestGetAutofillDataOffersStoredLogins(t *testing.T) {
	vault := seedVault(t,
		autofill.Credential{Domain: "https://example.com", Username: "alice", Password: "hunter2"},
		autofill.Credential{Domain: "https://other.org", Username: "bob", Password: "pw"},
	)
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://login.example.com/signin")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"password","trigger":"autoprompt"}`),
	})

	ev := c.next()
	if ev.Type != passbridge.EventCallback || ev.Name != passbridge.CallbackCredentialsAvailable {
		t.Fatalf("expected onCredentialsAvailable, got %+v", ev)
	}
	if len(ev.Logins) != 1 || ev.Logins[0].Username != "alice" {
		t.Errorf("expected alice's login, got %+v", ev.Logins)
	}
	if ev.Trigger != "autoprompt" {
		t.Errorf("expected trigger autoprompt, got %q", ev.Trigger)
	}
	if ev.URL != "https://login.example.com/signin" {
		t.Errorf("unexpected url %q", ev.URL)
	}
}

func TestGetAutofillDataAsJSONString(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`"{\"mainType\":\"credentials\",\"subType\":\"username\",\"trigger\":\"userInitiated\"}"`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackNoCredentialsAvailable {
		t.Fatalf("expected noCredentialsAvailable, got %+v", ev)
	}
}

func TestGetAutofillDataMalformedFailsOpen(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"pin","trigger":"autoprompt"}`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackNoCredentialsAvailable {
		t.Fatalf("expected noCredentialsAvailable, got %+v", ev)
	}
}

func TestGeneratedPasswordAvailable(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com/signup")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"password","trigger":"autoprompt","generatedPassword":{"value":"Xy7!q","username":"carol"}}`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackGeneratedPasswordAvailable {
		t.Fatalf("expected onGeneratedPasswordAvailable, got %+v", ev)
	}
	if ev.Username != "carol" || ev.Password != "Xy7!q" {
		t.Errorf("unexpected generator payload: %q %q", ev.Username, ev.Password)
	}
}

func TestBlockedDomainGetsNoCallback(t *testing.T) {
	cfg := passbridge.DefaultConfig()
	cfg.Autofill.BlockedDomains = []string{"bank.example"}
	vault := seedVault(t, autofill.Credential{Domain: "https://bank.example", Username: "alice", Password: "pw"})
	srv := newTestServer(t, cfg, vault)
	c := dialPage(t, srv)

	c.navigate("https://www.bank.example/login")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"password","trigger":"autoprompt"}`),
	})
	c.send(passbridge.Message{Type: passbridge.TypeInjectNoCredentials})

	ev := c.next()
	if ev.Type != passbridge.EventResponse {
		t.Fatalf("expected only the response event, got %+v", ev)
	}
}

func TestInjectCredentialsPostsResponse(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.send(passbridge.Message{
		Type:  passbridge.TypeInjectCredentials,
		Login: &passbridge.Login{Username: "alice", Password: "hunter2"},
	})

	ev := c.next()
	if ev.Type != passbridge.EventResponse {
		t.Fatalf("expected response event, got %+v", ev)
	}
	resp, err := autofill.ParseResponse(string(ev.Data))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasCredentials() || resp.Username != "alice" || resp.Password != "hunter2" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestGeneratedPasswordResponses(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	for _, tt := range []struct {
		msgType string
		action  string
	}{
		{passbridge.TypeAcceptGeneratedPassword, autofill.ActionAcceptGeneratedPassword},
		{passbridge.TypeRejectGeneratedPassword, autofill.ActionRejectGeneratedPassword},
		{passbridge.TypeInjectNoCredentials, autofill.ActionNone},
	} {
		c.send(passbridge.Message{Type: tt.msgType})
		ev := c.next()
		resp, err := autofill.ParseResponse(string(ev.Data))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Action != tt.action {
			t.Errorf("%s: expected action %q, got %q", tt.msgType, tt.action, resp.Action)
		}
	}
}

func TestStoreFormDataPromptsToSave(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com/login")
	c.send(passbridge.Message{
		Type: passbridge.TypeStoreFormData,
		Data: json.RawMessage(`{"credentials":{"username":"alice","password":"hunter2","autogenerated":false}}`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackCredentialsAvailableToSave {
		t.Fatalf("expected onCredentialsAvailableToSave, got %+v", ev)
	}
	if len(ev.Logins) != 1 || ev.Logins[0].Username != "alice" || ev.Logins[0].Domain != "https://example.com/login" {
		t.Errorf("unexpected login %+v", ev.Logins)
	}
}

func TestHalfCloseDeliversPendingCallbacks(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com/login")
	c.send(passbridge.Message{
		Type: passbridge.TypeStoreFormData,
		Data: json.RawMessage(`{"credentials":{"username":"alice","password":"hunter2"}}`),
	})
	if err := c.conn.(*net.UnixConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}

	ev := c.next()
	if ev.Name != passbridge.CallbackCredentialsAvailableToSave {
		t.Fatalf("expected onCredentialsAvailableToSave, got %+v", ev)
	}
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if c.scanner.Scan() {
		t.Fatalf("expected the daemon to close the page, got %s", c.scanner.Text())
	}
	if err := c.scanner.Err(); err != nil {
		t.Fatalf("expected a clean close, got %v", err)
	}
}

func TestSaveCredentialsUsesPageURL(t *testing.T) {
	vault := memstore.New()
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://example.com/login")
	c.send(passbridge.Message{
		Type:  passbridge.TypeSaveCredentials,
		Login: &passbridge.Login{Username: "alice", Password: "hunter2"},
	})

	ev := c.next()
	if ev.Type != passbridge.EventSaved || len(ev.Logins) != 1 {
		t.Fatalf("expected saved event, got %+v", ev)
	}
	saved := ev.Logins[0]
	if saved.ID == "" || saved.Domain != "https://example.com/login" {
		t.Errorf("unexpected saved login %+v", saved)
	}
	if _, ok := srv.monitor.TrackingID(c.pageID); ok {
		t.Error("a manually saved login must not be tracked")
	}
	if vault.Len() != 1 {
		t.Errorf("expected 1 stored login, got %d", vault.Len())
	}
}

func TestSaveCredentialsWithoutURL(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.send(passbridge.Message{
		Type:  passbridge.TypeSaveCredentials,
		Login: &passbridge.Login{Username: "alice", Password: "hunter2"},
	})

	ev := c.next()
	if ev.Type != passbridge.EventError || ev.Error == nil || ev.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message error, got %+v", ev)
	}
}

func TestAutoSavedLoginIsUpdated(t *testing.T) {
	vault := memstore.New()
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://example.com/signup")
	c.send(passbridge.Message{
		Type:          passbridge.TypeSaveCredentials,
		Login:         &passbridge.Login{Username: "alice", Password: "gen-1"},
		Autogenerated: true,
	})
	saved := c.next()
	if saved.Type != passbridge.EventSaved {
		t.Fatalf("expected saved event, got %+v", saved)
	}
	id := saved.Logins[0].ID
	if got, _ := srv.monitor.TrackingID(c.pageID); got != id {
		t.Fatalf("expected tracking id %s, got %q", id, got)
	}

	c.send(passbridge.Message{
		Type: passbridge.TypeStoreFormData,
		Data: json.RawMessage(`{"credentials":{"username":"alice","password":"gen-2","autogenerated":true}}`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackCredentialsSaved {
		t.Fatalf("expected onCredentialsSaved, got %+v", ev)
	}
	if len(ev.Logins) != 1 || ev.Logins[0].ID != id || ev.Logins[0].Password != "gen-2" {
		t.Errorf("unexpected saved login %+v", ev.Logins)
	}

	stored, err := vault.GetCredentialsWithID(context.Background(), id)
	if err != nil || stored == nil {
		t.Fatalf("expected stored login, got %v %v", stored, err)
	}
	if stored.Password != "gen-2" {
		t.Errorf("expected password gen-2, got %q", stored.Password)
	}
}

func TestManualSubmissionReplacesAutoSavedLogin(t *testing.T) {
	vault := memstore.New()
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://example.com/signup")
	c.send(passbridge.Message{
		Type:          passbridge.TypeSaveCredentials,
		Login:         &passbridge.Login{Username: "alice", Password: "gen-1"},
		Autogenerated: true,
	})
	c.next()

	c.send(passbridge.Message{
		Type: passbridge.TypeStoreFormData,
		Data: json.RawMessage(`{"credentials":{"username":"alice","password":"typed"}}`),
	})

	ev := c.next()
	if ev.Name != passbridge.CallbackCredentialsAvailableToSave {
		t.Fatalf("expected onCredentialsAvailableToSave, got %+v", ev)
	}
	if vault.Len() != 0 {
		t.Errorf("expected the auto-saved login to be deleted, %d remain", vault.Len())
	}
	if _, ok := srv.monitor.TrackingID(c.pageID); ok {
		t.Error("expected tracking id to be discarded")
	}
}

func TestInvalidMessage(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.sendRaw("{not json")
	ev := c.next()
	if ev.Type != passbridge.EventError || ev.Error == nil || ev.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message error, got %+v", ev)
	}

	// The connection stays usable.
	c.send(passbridge.Message{Type: passbridge.TypeInjectNoCredentials})
	if ev := c.next(); ev.Type != passbridge.EventResponse {
		t.Errorf("expected response after error, got %+v", ev)
	}
}

func TestUnknownMessageType(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.send(passbridge.Message{Type: "teleport"})
	ev := c.next()
	if ev.Type != passbridge.EventError || ev.Error == nil || ev.Error.Code != "unknown_type" {
		t.Fatalf("expected unknown_type error, got %+v", ev)
	}
	if !strings.Contains(ev.Error.Message, "teleport") {
		t.Errorf("expected message to name the type, got %q", ev.Error.Message)
	}
}

func TestInjectCredentialsRequiresLogin(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.send(passbridge.Message{Type: passbridge.TypeInjectCredentials})
	ev := c.next()
	if ev.Type != passbridge.EventError {
		t.Fatalf("expected error event, got %+v", ev)
	}
}

func TestDisconnectClearsTrackingID(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())
	c := dialPage(t, srv)

	c.navigate("https://example.com/signup")
	c.send(passbridge.Message{
		Type:          passbridge.TypeSaveCredentials,
		Login:         &passbridge.Login{Username: "alice", Password: "gen-1"},
		Autogenerated: true,
	})
	c.next()
	if srv.monitor.Len() != 1 {
		t.Fatalf("expected 1 tracked page, got %d", srv.monitor.Len())
	}

	c.conn.Close()
	waitFor(t, func() bool { return srv.monitor.Len() == 0 })
}

func TestRequestText(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"object", `{"a":1}`, `{"a":1}`},
		{"string", `"{\"a\":1}"`, `{"a":1}`},
		{"empty", ``, ``},
		{"broken string", `"abc`, `"abc`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestText(json.RawMessage(tt.data)); got != tt.want {
				t.Errorf("requestText(%s) = %q, want %q", tt.data, got, tt.want)
			}
		})
	}
}

func TestStaticCapabilities(t *testing.T) {
	caps := newStaticCapabilities(passbridge.AutofillConfig{
		Inject:         true,
		Save:           false,
		BlockedDomains: []string{" Bank.Example. ", ""},
	})
	ctx := context.Background()

	tests := []struct {
		url        string
		wantInject bool
	}{
		{"https://example.com/login", true},
		{"https://bank.example/login", false},
		{"https://www.bank.example", false},
		{"https://notbank.example", true},
		{"bank.example", false},
		{"bank.example/login", false},
		{"bank.example:8443", false},
		{"login.bank.example/x", false},
		{"BANK.example./login", false},
		{"example.com:8443/login", true},
		{"", true},
	}
	for _, tt := range tests {
		if got := caps.CanInject(ctx, tt.url); got != tt.wantInject {
			t.Errorf("CanInject(%s) = %v, want %v", tt.url, got, tt.wantInject)
		}
		if caps.CanSave(ctx, tt.url) {
			t.Errorf("CanSave(%s) = true with save disabled", tt.url)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "passbridged dev\n" {
		t.Errorf("unexpected version output %q", got)
	}
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[tracking]\nttl_minutes = 45\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"config", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "ttl_minutes = 45") {
		t.Errorf("expected ttl_minutes = 45 in output, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "inject = true") {
		t.Errorf("expected default inject = true in output, got:\n%s", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("expected no warnings, got %q", errOut.String())
	}
}
