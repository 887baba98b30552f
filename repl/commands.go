package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/shell"

	passbridge "github.com/Paranoid-AF/passbridge"
	"github.com/Paranoid-AF/passbridge/autofill"
)

const helpText = `commands:
  nav <url>                               report the page URL
  fetch <username|password> [trigger] [generated [user]]
                                          request autofill data (trigger: userInitiated, autoprompt)
  submit <username> <password> [--gen]    submit a login form
  cancel                                  cancel the fetch in flight
  inject <n>|none                         answer with the n-th offered login, or nothing
  accept | reject                         answer a generated password offer
  save <username> [password] [--gen]      save a login; prompts for the password when omitted
  raw <json>                              send an envelope as-is
  help                                    show this text
  :quit                                   exit
arguments are split like a shell command line; quote values containing spaces or $
`

var (
	errQuit  = errors.New("quit")
	errHelp  = errors.New("help")
	errEmpty = errors.New("empty line")
)

// usageError reports a malformed command.
type usageError struct {
	cmd string
	msg string
}

func (e *usageError) Error() string {
	return fmt.Sprintf("%s: %s", e.cmd, e.msg)
}

// parseCommand turns one input line into an envelope for the daemon. offered
// holds the logins from the latest onCredentialsAvailable event. readPassword
// is called by save when no password argument is given.
func parseCommand(line string, offered []passbridge.Login, readPassword func() (string, error)) (*passbridge.Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, errEmpty
	}
	switch line {
	case ":quit", ":q":
		return nil, errQuit
	case "help", "?":
		return nil, errHelp
	}

	if rest, ok := strings.CutPrefix(line, "raw "); ok {
		var msg passbridge.Message
		if err := json.Unmarshal([]byte(rest), &msg); err != nil {
			return nil, &usageError{cmd: "raw", msg: err.Error()}
		}
		return &msg, nil
	}

	args, err := shell.Fields(line, os.Getenv)
	if err != nil {
		return nil, &usageError{cmd: "parse", msg: err.Error()}
	}
	if len(args) == 0 {
		return nil, errEmpty
	}
	cmd, args := args[0], args[1:]
	args, gen := cutFlag(args, "--gen")

	switch cmd {
	case "nav":
		if len(args) != 1 {
			return nil, &usageError{cmd: cmd, msg: "expected a URL"}
		}
		return &passbridge.Message{Type: passbridge.TypeNavigate, URL: args[0]}, nil

	case "fetch":
		return parseFetch(args)

	case "submit":
		if len(args) != 2 {
			return nil, &usageError{cmd: cmd, msg: "expected <username> <password>"}
		}
		data, err := json.Marshal(map[string]any{
			"credentials": map[string]any{
				"username":      args[0],
				"password":      args[1],
				"autogenerated": gen,
			},
		})
		if err != nil {
			return nil, err
		}
		return &passbridge.Message{Type: passbridge.TypeStoreFormData, Data: data}, nil

	case "cancel":
		return &passbridge.Message{Type: passbridge.TypeCancelRetrievingStoredLogins}, nil

	case "inject":
		if len(args) != 1 {
			return nil, &usageError{cmd: cmd, msg: "expected a login number or none"}
		}
		if args[0] == "none" {
			return &passbridge.Message{Type: passbridge.TypeInjectNoCredentials}, nil
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 || n > len(offered) {
			return nil, &usageError{cmd: cmd, msg: fmt.Sprintf("no offered login %q (%d offered)", args[0], len(offered))}
		}
		login := offered[n-1]
		return &passbridge.Message{Type: passbridge.TypeInjectCredentials, Login: &login}, nil

	case "accept":
		return &passbridge.Message{Type: passbridge.TypeAcceptGeneratedPassword}, nil

	case "reject":
		return &passbridge.Message{Type: passbridge.TypeRejectGeneratedPassword}, nil

	case "save":
		if len(args) < 1 || len(args) > 2 {
			return nil, &usageError{cmd: cmd, msg: "expected <username> [password]"}
		}
		login := &passbridge.Login{Username: args[0]}
		if len(args) == 2 {
			login.Password = args[1]
		} else {
			pw, err := readPassword()
			if err != nil {
				return nil, &usageError{cmd: cmd, msg: err.Error()}
			}
			login.Password = pw
		}
		return &passbridge.Message{Type: passbridge.TypeSaveCredentials, Login: login, Autogenerated: gen}, nil
	}

	return nil, &usageError{cmd: cmd, msg: "unknown command, try help"}
}

func parseFetch(args []string) (*passbridge.Message, error) {
	if len(args) < 1 || len(args) > 4 {
		return nil, &usageError{cmd: "fetch", msg: "expected <username|password> [trigger] [generated [user]]"}
	}
	req := map[string]any{
		"mainType": string(autofill.MainTypeCredentials),
		"subType":  args[0],
		"trigger":  string(autofill.TriggerUserInitiated),
	}
	if len(args) > 1 {
		req["trigger"] = args[1]
	}
	if len(args) > 2 {
		gen := autofill.GeneratedPassword{Value: args[2]}
		if len(args) > 3 {
			gen.Username = args[3]
		}
		req["generatedPassword"] = gen
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return &passbridge.Message{Type: passbridge.TypeGetAutofillData, Data: data}, nil
}

// cutFlag removes every occurrence of flag from args and reports whether it was present.
func cutFlag(args []string, flag string) ([]string, bool) {
	out := args[:0:0]
	found := false
	for _, a := range args {
		if a == flag {
			found = true
			continue
		}
		out = append(out, a)
	}
	return out, found
}
