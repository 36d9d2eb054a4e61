// passctl is the attendee client: it signs in, registers for the
// conference and shows the pass, keeping a local copy so the pass is
// available offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/pass"
)

const usage = `Usage: passctl [flags] <command> [command flags]

Commands:
  signup     create an attendee account
  login      sign in
  logout     sign out and forget the local pass
  register   register for the conference
  status     show the current pass
  qr         show the pass QR code (terminal, or --png FILE)
  count      show the number of participants

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		var verbose verboseError
		if errors.As(err, &verbose) {
			fmt.Fprintf(os.Stderr, "detail: %v\n", verbose.err)
		}
		os.Exit(1)
	}
}

// verboseError carries the raw cause for --verbose output.
type verboseError struct{ err error }

func (v verboseError) Error() string { return v.err.Error() }
func (v verboseError) Unwrap() error { return v.err }

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var verbose bool
	flagSet := pflag.NewFlagSet("passctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&cfg.Client.APIURL, "api", cfg.Client.APIURL, "confpass server URL")
	flagSet.StringVar(&cfg.Client.SessionFile, "session-file", cfg.Client.SessionFile, "where the sign-in session is kept")
	flagSet.StringVar(&cfg.Client.PassFile, "pass-file", cfg.Client.PassFile, "where the local pass copy is kept")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log diagnostics to stderr")
	flagSet.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		flagSet.Usage()
		return pflag.ErrHelp
	}

	logger := newLogger(verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, logger)
	defer a.close()

	cmd, cmdArgs := rest[0], rest[1:]
	var cmdErr error
	switch cmd {
	case "signup":
		cmdErr = a.signup(ctx, cmdArgs)
	case "login":
		cmdErr = a.login(ctx, cmdArgs)
	case "logout":
		cmdErr = a.logout(ctx)
	case "register":
		cmdErr = a.register(ctx, cmdArgs)
	case "status":
		cmdErr = a.status(ctx)
	case "qr":
		cmdErr = a.qr(ctx, cmdArgs)
	case "count":
		cmdErr = a.count(ctx)
	default:
		flagSet.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if cmdErr != nil && verbose {
		return verboseError{cmdErr}
	}
	return cmdErr
}

// describe prefers the user-facing notice and falls back to the error text
// for failures outside the registration flow.
func describe(err error) string {
	if n := pass.Notice(err); n != pass.NoticeGeneric {
		return n
	}
	return err.Error()
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
