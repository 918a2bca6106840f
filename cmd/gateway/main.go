// The gateway daemon receives inbound email via provider webhooks (and
// optionally an IMAP poller), threads it into conversations, and sends
// agent-composed replies.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nhle/email-gateway/internal/agent"
	"github.com/nhle/email-gateway/internal/credential"
	"github.com/nhle/email-gateway/internal/gateway"
	intakeimap "github.com/nhle/email-gateway/internal/intake/imap"
	"github.com/nhle/email-gateway/internal/logging"
	"github.com/nhle/email-gateway/internal/model"
	"github.com/nhle/email-gateway/internal/outbound"
	"github.com/nhle/email-gateway/internal/render"
	"github.com/nhle/email-gateway/internal/scheduler"
	"github.com/nhle/email-gateway/internal/server"
	"github.com/nhle/email-gateway/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "Path to the configuration file")
	flag.Parse()

	var err error
	if args := flag.Args(); len(args) > 0 {
		err = runCommand(*configPath, args)
	} else {
		err = run(*configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runCommand dispatches the maintenance subcommands. They exist so a
// fresh deployment can store its secrets and register senders before
// the daemon is able to start.
func runCommand(configPath string, args []string) error {
	switch args[0] {
	case "credential":
		return runCredentialCommand(args[1:])
	case "user":
		return runUserCommand(configPath, args[1:])
	default:
		return fmt.Errorf("unknown command %q (want credential or user)", args[0])
	}
}

// runCredentialCommand manages keyring entries. The value for set is
// read from stdin so secrets stay out of argv and shell history.
func runCredentialCommand(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: gateway credential <set|delete> <key>")
	}

	creds := credential.New()
	key := args[1]

	switch args[0] {
	case "set":
		fmt.Fprintf(os.Stderr, "value for %s: ", key)
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading credential value: %w", err)
		}
		value := strings.TrimSpace(string(raw))
		if value == "" {
			return fmt.Errorf("empty credential value")
		}
		return creds.Set(key, value)
	case "delete":
		return creds.Delete(key)
	default:
		return fmt.Errorf("unknown credential command %q (want set or delete)", args[0])
	}
}

// runUserCommand manages the sender directory.
func runUserCommand(configPath string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: gateway user <add|list> [email] [name]")
	}

	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	switch args[0] {
	case "add":
		if len(args) < 2 {
			return fmt.Errorf("usage: gateway user add <email> [name]")
		}
		name := strings.Join(args[2:], " ")
		user, err := st.UpsertUser(ctx, model.User{Email: args[1], Name: name})
		if err != nil {
			return err
		}
		fmt.Println(user.ID)
		return nil
	case "list":
		users, err := st.GetUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%s\t%s\t%s\n", u.ID, u.Email, u.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown user command %q (want add or list)", args[0])
	}
}

func run(configPath string) error {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.LogLevel)

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	creds := credential.New()

	sender, err := buildSender(cfg, creds)
	if err != nil {
		return err
	}

	composer := outbound.NewComposer(
		cfg.Outbound.FromAddress,
		cfg.Outbound.FromName,
		cfg.Outbound.MessageIDDomain,
		cfg.Outbound.SignatureHTML,
		render.Basic{},
	)
	dispatcher := outbound.NewDispatcher(sender, log)

	agentKey, err := creds.Get(cfg.AI.APIKeyName)
	if err != nil {
		return fmt.Errorf("reading agent API key %q: %w", cfg.AI.APIKeyName, err)
	}
	agentComposer := agent.NewClaudeComposer(
		agentKey, st, cfg.AI.Model, cfg.AI.MaxTokens, cfg.Reply.CCInstructions,
	)

	pipeline := gateway.New(
		gateway.Config{
			AutoReply:      cfg.Reply.AutoReply,
			AutoReplyDelay: time.Duration(cfg.Reply.AutoReplyDelaySeconds) * time.Second,
			CCMode:         cfg.Reply.CCMode,
		},
		st, composer, dispatcher, agentComposer, scheduler.RealClock(), log,
	)
	defer pipeline.Scheduler().Stop()

	srv := server.New(cfg.Server.Listen, pipeline, st, creds, log)

	var poller *intakeimap.Poller
	if cfg.IMAP.Enabled {
		poller, err = buildPoller(cfg, creds, pipeline, log)
		if err != nil {
			return err
		}
		poller.Start()
		defer poller.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Server.Listen).Info("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// buildSender constructs the outbound adapter named in the config,
// looking up its secret in the system keyring.
func buildSender(cfg *model.AppConfig, creds *credential.Keyring) (outbound.Sender, error) {
	switch cfg.Outbound.Provider {
	case "resend":
		apiKey, err := creds.Get(cfg.Outbound.ResendAPIKeyName)
		if err != nil {
			return nil, fmt.Errorf("reading Resend API key %q: %w", cfg.Outbound.ResendAPIKeyName, err)
		}
		return outbound.NewResendSender(apiKey), nil
	case "smtp":
		smtp := cfg.Outbound.SMTP
		password, err := creds.Get(smtp.PasswordKeyName)
		if err != nil {
			return nil, fmt.Errorf("reading SMTP password %q: %w", smtp.PasswordKeyName, err)
		}
		return outbound.NewSMTPSender(smtp.Host, smtp.Port, smtp.Username, password, smtp.TLS), nil
	default:
		return nil, fmt.Errorf("unknown outbound provider %q", cfg.Outbound.Provider)
	}
}

// buildPoller constructs the IMAP intake poller from the config.
func buildPoller(cfg *model.AppConfig, creds *credential.Keyring, p *gateway.Pipeline, log *logrus.Logger) (*intakeimap.Poller, error) {
	password, err := creds.Get(cfg.IMAP.PasswordKeyName)
	if err != nil {
		return nil, fmt.Errorf("reading IMAP password %q: %w", cfg.IMAP.PasswordKeyName, err)
	}
	client := intakeimap.NewClient(cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username, password, cfg.IMAP.TLS)
	interval := time.Duration(cfg.IMAP.PollIntervalSec) * time.Second
	return intakeimap.NewPoller(client, p, log, interval), nil
}
