package main

import (
	"encoding/json"
	"testing"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
	"github.com/Paranoid-AF/passbridge/memstore"
)

func TestIntegrationSignInRoundTrip(t *testing.T) {
	vault := seedVault(t, autofill.Credential{Domain: "https://example.com", Username: "alice", Password: "hunter2", Title: "Example"})
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://example.com/login")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"username","trigger":"userInitiated"}`),
	})

	offered := c.next()
	if offered.Name != passbridge.CallbackCredentialsAvailable || len(offered.Logins) != 1 {
		t.Fatalf("expected one offered login, got %+v", offered)
	}

	// The user picks the offered login.
	picked := offered.Logins[0]
	c.send(passbridge.Message{Type: passbridge.TypeInjectCredentials, Login: &picked})

	ev := c.next()
	if ev.Type != passbridge.EventResponse {
		t.Fatalf("expected response, got %+v", ev)
	}
	resp, err := autofill.ParseResponse(string(ev.Data))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Username != "alice" || resp.Password != "hunter2" {
		t.Errorf("unexpected injected login %+v", resp)
	}
}

func TestIntegrationSignUpWithGeneratedPassword(t *testing.T) {
	vault := memstore.New()
	srv := newTestServer(t, nil, vault)
	c := dialPage(t, srv)

	c.navigate("https://example.com/signup")
	c.send(passbridge.Message{
		Type: passbridge.TypeGetAutofillData,
		Data: json.RawMessage(`{"mainType":"credentials","subType":"password","trigger":"autoprompt","generatedPassword":{"value":"gen-1","username":"alice"}}`),
	})
	if ev := c.next(); ev.Name != passbridge.CallbackGeneratedPasswordAvailable {
		t.Fatalf("expected generator offer, got %+v", ev)
	}

	c.send(passbridge.Message{Type: passbridge.TypeAcceptGeneratedPassword})
	if ev := c.next(); ev.Type != passbridge.EventResponse {
		t.Fatalf("expected response, got %+v", ev)
	}

	c.send(passbridge.Message{
		Type:          passbridge.TypeSaveCredentials,
		Login:         &passbridge.Login{Username: "alice", Password: "gen-1"},
		Autogenerated: true,
	})
	saved := c.next()
	if saved.Type != passbridge.EventSaved {
		t.Fatalf("expected saved event, got %+v", saved)
	}

	// Submitting the same generated login is already saved; nothing is emitted.
	c.send(passbridge.Message{
		Type: passbridge.TypeStoreFormData,
		Data: json.RawMessage(`{"credentials":{"username":"alice","password":"gen-1","autogenerated":true}}`),
	})
	c.send(passbridge.Message{Type: passbridge.TypeInjectNoCredentials})
	if ev := c.next(); ev.Type != passbridge.EventResponse {
		t.Fatalf("expected no callback for an unchanged login, got %+v", ev)
	}
	if vault.Len() != 1 {
		t.Errorf("expected 1 stored login, got %d", vault.Len())
	}
}

func TestIntegrationPagesAreIsolated(t *testing.T) {
	srv := newTestServer(t, nil, memstore.New())

	const pages = 5
	ids := make([]string, pages)
	tracked := make([]string, pages)
	clients := make([]*testClient, pages)
	for i := range clients {
		clients[i] = dialPage(t, srv)
		ids[i] = clients[i].pageID
		clients[i].navigate("https://example.com/signup")
	}
	for _, c := range clients {
		c.send(passbridge.Message{
			Type:          passbridge.TypeSaveCredentials,
			Login:         &passbridge.Login{Username: "user", Password: "gen"},
			Autogenerated: true,
		})
	}
	for i, c := range clients {
		ev := c.next()
		if len(ev.Logins) != 1 {
			t.Fatalf("expected saved login, got %+v", ev)
		}
		tracked[i] = ev.Logins[0].ID
	}

	seen := make(map[string]bool)
	for i := 0; i < pages; i++ {
		if seen[ids[i]] {
			t.Errorf("duplicate page id %s", ids[i])
		}
		seen[ids[i]] = true
		got, ok := srv.monitor.TrackingID(ids[i])
		if !ok || got != tracked[i] {
			t.Errorf("page %s: expected tracking id %s, got %q", ids[i], tracked[i], got)
		}
	}
}
