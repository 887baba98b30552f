// Command passbridge-repl is an interactive page simulator for passbridged.
// It attaches to the daemon as one page instance, sends bridge messages typed
// at the prompt, and writes every event it receives as TOML to stdout.
//
// Usage:
//
//	./passbridge-repl                  # interactive, TOML on screen
//	./passbridge-repl > log.toml       # summaries on screen, TOML to file
//	./passbridge-repl < script.txt     # replay a scripted session
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	passbridge "github.com/Paranoid-AF/passbridge"
)

const prompt = "> "

type options struct {
	socket      string
	configPath  string
	showSecrets bool
	verbose     bool
	linger      time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "passbridge-repl",
		Short:        "Interactive page simulator for passbridged",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			sock, err := socketPath(opts)
			if err != nil {
				return err
			}
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return fmt.Errorf("connect %s: %w (is passbridged running?)", sock, err)
			}
			slog.Debug("connected", "socket", sock)

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			r := newREPL(conn, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
			r.interactive = interactive
			r.showSecrets = opts.showSecrets
			r.linger = opts.linger
			r.readPassword = terminalPassword(r)
			return r.run()
		},
	}
	cmd.Flags().StringVar(&opts.socket, "socket", "", "daemon socket path")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "config file used to locate the socket")
	cmd.Flags().BoolVar(&opts.showSecrets, "show-passwords", false, "print passwords instead of masking them")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "log connection details to stderr")
	cmd.Flags().DurationVar(&opts.linger, "linger", 500*time.Millisecond, "how long to wait for events after input ends")
	return cmd
}

func socketPath(opts *options) (string, error) {
	if opts.socket != "" {
		return opts.socket, nil
	}
	var (
		cfg *passbridge.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = passbridge.LoadConfigFile(opts.configPath)
	} else {
		cfg, err = passbridge.LoadConfig()
	}
	if err != nil {
		return "", err
	}
	return passbridge.SocketPath(cfg), nil
}

func terminalPassword(r *repl) func() (string, error) {
	return func() (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", errors.New("password argument required when stdin is not a terminal")
		}
		r.printf("password: ")
		pw, err := term.ReadPassword(fd)
		r.printf("\n")
		return string(pw), err
	}
}

// repl drives one simulated page.
type repl struct {
	conn net.Conn
	in   io.Reader
	out  io.Writer // TOML event log
	tty  io.Writer // prompts and summaries

	interactive  bool
	showSecrets  bool
	linger       time.Duration
	readPassword func() (string, error)
	now          func() time.Time

	ttyMu sync.Mutex

	mu      sync.Mutex
	offered []passbridge.Login
}

func newREPL(conn net.Conn, in io.Reader, out, tty io.Writer) *repl {
	r := &repl{conn: conn, in: in, out: out, tty: tty, now: time.Now}
	r.readPassword = func() (string, error) {
		return "", errors.New("password argument required")
	}
	return r
}

func (r *repl) run() error {
	events := make(chan error, 1)
	go func() { events <- r.readEvents() }()

	if r.interactive {
		r.printf("passbridge repl, type help for commands\n\n")
	}

	in := bufio.NewScanner(r.in)
	for {
		if r.interactive {
			r.printf(prompt)
		}
		if !in.Scan() {
			break
		}
		msg, err := parseCommand(in.Text(), r.offeredLogins(), r.readPassword)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return r.finish(events, 0)
		case errors.Is(err, errHelp):
			r.printf("%s", helpText)
			continue
		case errors.Is(err, errEmpty):
			continue
		default:
			r.printf("%v\n", err)
			continue
		}
		if err := r.send(msg); err != nil {
			r.conn.Close()
			<-events
			return err
		}
	}
	if err := in.Err(); err != nil {
		r.finish(events, 0)
		return err
	}
	// Half-close so the daemon answers what is in flight and then hangs up.
	if cw, ok := r.conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			slog.Debug("half-close failed", "error", err)
		}
	}
	return r.finish(events, r.linger)
}

// finish waits up to linger for the daemon to close the stream, then closes
// the connection and waits for the event reader.
func (r *repl) finish(events <-chan error, linger time.Duration) error {
	if linger > 0 {
		select {
		case err := <-events:
			r.conn.Close()
			return err
		case <-time.After(linger):
		}
	}
	r.conn.Close()
	<-events
	return nil
}

func (r *repl) send(msg *passbridge.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = r.conn.Write(append(data, '\n'))
	return err
}

func (r *repl) readEvents() error {
	scanner := bufio.NewScanner(r.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		r.handleEvent(scanner.Bytes())
	}
	return scanner.Err()
}

func (r *repl) handleEvent(line []byte) {
	var ev passbridge.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		r.printf("\nunreadable event: %v\n", err)
		return
	}
	if ev.Type == passbridge.EventCallback && ev.Name == passbridge.CallbackCredentialsAvailable {
		r.mu.Lock()
		r.offered = ev.Logins
		r.mu.Unlock()
	}

	r.printf("\n%s\n", summarize(ev))
	if err := writeEntry(r.out, ev, r.now(), r.showSecrets); err != nil {
		slog.Warn("failed to write event", "error", err)
	}
	if r.interactive {
		r.printf(prompt)
	}
}

func (r *repl) offeredLogins() []passbridge.Login {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offered
}

func (r *repl) printf(format string, args ...any) {
	r.ttyMu.Lock()
	defer r.ttyMu.Unlock()
	fmt.Fprintf(r.tty, format, args...)
}
