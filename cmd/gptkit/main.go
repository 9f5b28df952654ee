package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/randalmurphal/gptkit/chat"
	"github.com/randalmurphal/gptkit/config"
	"github.com/randalmurphal/gptkit/snapshot"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath   string
	name         string
	baseURL      string
	model        string
	thread       string
	parent       string
	sessionToken string
	secretFile   string
	logLevel     string
	interactive  bool
	strict       bool
	schema       bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("gptkit", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .toml, .json or .jsonc)")
	flagSet.StringVar(&opts.name, "name", "", "instance name; selects the snapshot file")
	flagSet.StringVar(&opts.baseURL, "base-url", "", "backend root URL")
	flagSet.StringVar(&opts.model, "model", "", "model identifier")
	flagSet.StringVarP(&opts.thread, "thread", "t", chat.DefaultThread, "conversation thread")
	flagSet.StringVar(&opts.parent, "parent", "", "reply to this message id instead of the thread's last message")
	flagSet.StringVar(&opts.sessionToken, "session-token", "", "session secret (prefer GPTKIT_SESSION_TOKEN)")
	flagSet.StringVar(&opts.secretFile, "secret-file", "", "file holding the session secret, watched for rotation")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flagSet.BoolVarP(&opts.interactive, "interactive", "i", false, "read one prompt per line")
	flagSet.BoolVar(&opts.strict, "strict", false, "fail on out-of-order stream records")
	flagSet.BoolVar(&opts.schema, "snapshot-schema", false, "print the snapshot JSON Schema and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.schema {
		data, err := snapshot.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}

	cfg, err := loadConfig(flagSet, &opts)
	if err != nil {
		return err
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	secret, err := resolveSecret(opts.sessionToken, cfg.SecretFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := chat.New(cfg, secret, chat.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("close client", slog.Any("error", err))
		}
	}()
	if err := client.Start(ctx); err != nil {
		return err
	}

	if opts.interactive {
		return interactive(ctx, client, opts, stdin, stdout)
	}

	prompt := strings.Join(flagSet.Args(), " ")
	if prompt == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return errors.New("no prompt given")
	}
	return ask(ctx, client, opts, opts.parent, prompt, stdout)
}

// loadConfig layers the config file, the environment and explicit flags.
func loadConfig(flagSet *pflag.FlagSet, opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(opts.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.LoadFromEnv()

	if flagSet.Changed("name") {
		cfg.Name = opts.name
	}
	if flagSet.Changed("base-url") {
		cfg.BaseURL = opts.baseURL
	}
	if flagSet.Changed("model") {
		cfg.Model = opts.model
	}
	if flagSet.Changed("secret-file") {
		cfg.SecretFile = opts.secretFile
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flagSet.Changed("strict") {
		cfg.StrictStream = opts.strict
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func resolveSecret(flagValue, secretFile string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv("GPTKIT_SESSION_TOKEN"); v != "" {
		return v, nil
	}
	if secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("read secret file: %w", err)
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			return s, nil
		}
	}
	return "", errors.New("no session secret: set GPTKIT_SESSION_TOKEN, --session-token or --secret-file")
}

func ask(ctx context.Context, client *chat.Client, opts options, parent, prompt string, stdout io.Writer) error {
	exchangeOpts := []chat.ExchangeOption{
		chat.WithThread(opts.thread),
		chat.WithDelta(func(delta string) { fmt.Fprint(stdout, delta) }),
	}
	if parent != "" {
		exchangeOpts = append(exchangeOpts, chat.WithParent(parent))
	}

	res := client.Exchange(ctx, prompt, exchangeOpts...)
	fmt.Fprintln(stdout)
	if !res.OK {
		return fmt.Errorf("%s: %w", res.Kind, res.Error)
	}
	return nil
}

func interactive(ctx context.Context, client *chat.Client, opts options, stdin io.Reader, stdout io.Writer) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// The explicit parent only applies to the first prompt.
	parent := opts.parent
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			client.Reset(opts.thread)
			fmt.Fprintln(stdout, "(new conversation)")
			continue
		}

		if err := ask(ctx, client, opts, parent, line, stdout); err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
		}
		parent = ""
		if ctx.Err() != nil {
			return nil
		}
	}
}
