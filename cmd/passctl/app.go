package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/pass"
	"github.com/pz26/confpass/internal/passcache"
	"github.com/pz26/confpass/internal/passview"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/storeclient"
)

type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider *identity.HTTPProvider
	gate     *identity.Gate
	store    *storeclient.Client
	ctrl     *pass.Controller
	out      io.Writer
	// creds replaces the terminal prompt when set.
	creds identity.CredentialPrompter
	email string // --email for login and signup, set before the prompt runs
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	httpClient := &http.Client{Timeout: cfg.Client.RequestTimeout}
	a := &app{cfg: cfg, logger: logger, out: os.Stdout}

	a.provider = identity.NewHTTPProvider(cfg.Client.APIURL, httpClient, promptFunc(a.prompt), logger)
	a.gate = identity.NewGate(a.provider, cfg.Client.SessionFile, logger)
	a.store = storeclient.New(cfg.Client.APIURL, httpClient, a.gate, logger)
	svc := registrations.NewService(a.store, cfg.Event.AuthProvider, logger)
	a.ctrl = pass.NewController(svc, a.store, passcache.New(cfg.Client.PassFile, logger), a.gate, logger)
	return a
}

func (a *app) close() { a.ctrl.Close() }

type promptFunc func(ctx context.Context) (identity.Credentials, error)

func (f promptFunc) Prompt(ctx context.Context) (identity.Credentials, error) { return f(ctx) }

func (a *app) prompt(ctx context.Context) (identity.Credentials, error) {
	if a.creds != nil {
		return a.creds.Prompt(ctx)
	}
	return identity.NewTerminalPrompter(os.Stdin, os.Stderr, a.email).Prompt(ctx)
}

func (a *app) signup(ctx context.Context, args []string) error {
	var email, name string
	fs := pflag.NewFlagSet("signup", pflag.ContinueOnError)
	fs.StringVar(&email, "email", "", "account email")
	fs.StringVar(&name, "name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if email == "" || name == "" {
		return errors.New("signup needs --email and --name")
	}
	a.email = email
	creds, err := a.prompt(ctx)
	if err != nil {
		return err
	}
	if err := a.provider.Signup(ctx, creds.Email, creds.Password, name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Account created for %s. Run \"passctl login\" to sign in.\n", creds.Email)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.StringVar(&a.email, "email", "", "account email (prompted when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id, ok := a.gate.Current(); ok {
		fmt.Fprintf(a.out, "Already signed in as %s.\n", id.Email)
		return nil
	}
	id, err := a.gate.EnsureSignedIn(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s.\n", id.Email)
	a.ctrl.Wait()
	passview.NewPrinter(a.out, false).Observe(a.ctrl.View())
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if _, ok := a.gate.Current(); !ok {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	err := a.gate.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out.")
	return err
}

func (a *app) register(ctx context.Context, args []string) error {
	var f registrations.Fields
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	fs.StringVar(&f.FullName, "name", "", "full name")
	fs.StringVar(&f.Phone, "phone", "", "phone number")
	fs.StringVar(&f.College, "college", "", "college or organization")
	if err := fs.Parse(args); err != nil {
		return err
	}
	reg, err := a.ctrl.Register(ctx, f)
	if err != nil {
		return err
	}
	a.ctrl.Wait()
	fmt.Fprintf(a.out, "Registered: %s\n", reg.RegID)
	passview.NewPrinter(a.out, true).Observe(a.ctrl.View())
	return nil
}

func (a *app) status(ctx context.Context) error {
	if err := a.ctrl.Start(ctx); err != nil {
		return err
	}
	a.ctrl.Wait()
	v := a.ctrl.View()
	passview.NewPrinter(a.out, false).Observe(v)
	if v.State == pass.StateRevoked {
		a.ctrl.DismissNotice()
	}
	return nil
}

func (a *app) qr(ctx context.Context, args []string) error {
	var pngPath string
	var size int
	fs := pflag.NewFlagSet("qr", pflag.ContinueOnError)
	fs.StringVar(&pngPath, "png", "", "write the QR code as PNG to this file")
	fs.IntVar(&size, "size", passview.DefaultSize, "PNG size in pixels")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.ctrl.Start(ctx); err != nil {
		return err
	}
	v := a.ctrl.View()
	if v.Pass == nil {
		passview.NewPrinter(a.out, false).Observe(v)
		return errors.New("no pass to show")
	}

	if pngPath == "" {
		s, err := passview.Terminal(v.Pass.QRText)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, s)
		fmt.Fprintln(a.out, v.Pass.RegID)
		return nil
	}

	opts := passview.Options{Size: size}
	if a.cfg.Event.LogoPath != "" {
		logo, err := passview.LoadLogo(a.cfg.Event.LogoPath)
		if err != nil {
			a.logger.Warn("logo not applied", zap.Error(err))
		} else {
			opts.Logo = logo
		}
	}
	png, err := passview.RenderQR(v.Pass.QRText, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(pngPath, png, 0644); err != nil {
		return fmt.Errorf("write %s: %w", pngPath, err)
	}
	fmt.Fprintf(a.out, "Pass %s written to %s\n", v.Pass.RegID, pngPath)
	return nil
}

func (a *app) count(ctx context.Context) error {
	n, err := a.store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Participants: %d\n", n)
	return nil
}
