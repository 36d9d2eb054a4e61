package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/pz26/confpass/config"
	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/middleware"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/stats"
)

type fixedCreds identity.Credentials

func (f fixedCreds) Prompt(context.Context) (identity.Credentials, error) {
	return identity.Credentials(f), nil
}

// AppSuite drives passctl commands against the server handlers backed by
// in-memory stores.
type AppSuite struct {
	suite.Suite
	srv   *httptest.Server
	store *registrations.Memory
	cfg   *config.Config
	out   *bytes.Buffer
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	s.store = registrations.NewMemory(registrations.DefaultRetryPolicy())
	s.Require().NoError(s.store.BootstrapCounter(ctx, "PZ26-OCP", 1))

	jwtSvc := auth.NewJWTService("test-secret", 1)
	revocations := auth.NewMemoryRevocations()
	authHandler := auth.NewHandler(auth.NewMemoryUsers(), jwtSvc, revocations, nil)
	statsSvc := stats.NewService(s.store, nil, 0, nil)
	h := registrations.NewHandler(registrations.NewService(s.store, "password", nil), s.store, statsSvc, nil)

	r := gin.New()
	r.GET("/stats/participants", stats.NewHandler(statsSvc, nil).Participants)
	r.POST("/auth/signup", authHandler.Signup)
	r.POST("/auth/login", authHandler.Login)
	api := r.Group("")
	api.Use(middleware.JWT(jwtSvc, revocations, nil))
	api.POST("/auth/logout", authHandler.Logout)
	api.POST("/registrations", h.Register)
	api.GET("/registrations", h.FindByEmail)
	api.GET("/registrations/:regId", h.Get)
	s.srv = httptest.NewServer(r)
	s.T().Cleanup(s.srv.Close)

	dir := s.T().TempDir()
	s.cfg = &config.Config{
		Event: config.EventConfig{AuthProvider: "password"},
		Client: config.ClientConfig{
			APIURL:      s.srv.URL,
			SessionFile: filepath.Join(dir, "session.json"),
			PassFile:    filepath.Join(dir, "pass.json"),
		},
	}
	s.out = &bytes.Buffer{}
}

func (s *AppSuite) newApp() *app {
	a := newApp(s.cfg, zap.NewNop())
	a.out = s.out
	a.creds = fixedCreds{Email: "asha@example.com", Password: "s3cret-pass"}
	s.T().Cleanup(a.close)
	return a
}

func (s *AppSuite) TestSignupRegisterAndShowPass() {
	ctx := context.Background()
	a := s.newApp()

	s.Require().NoError(a.signup(ctx, []string{"--email", "asha@example.com", "--name", "Asha Rao"}))
	s.Require().NoError(a.register(ctx, []string{"--name", "Asha Rao", "--phone", "+91 98765 43210", "--college", "OCP"}))
	s.Contains(s.out.String(), "Registered: PZ26-OCP-")

	reg, found, err := s.store.FindByEmail(ctx, "asha@example.com")
	s.Require().NoError(err)
	s.Require().True(found)

	// A fresh process sees the saved session and pass.
	s.out.Reset()
	b := s.newApp()
	s.Require().NoError(b.status(ctx))
	s.Contains(s.out.String(), "Pass: "+reg.RegID)

	png := filepath.Join(s.T().TempDir(), "pass.png")
	s.Require().NoError(b.qr(ctx, []string{"--png", png, "--size", "128"}))
	info, err := os.Stat(png)
	s.Require().NoError(err)
	s.Positive(info.Size())

	s.out.Reset()
	s.Require().NoError(b.count(ctx))
	s.Equal("Participants: 1\n", s.out.String())
}

func (s *AppSuite) TestLogoutForgetsPass() {
	ctx := context.Background()
	a := s.newApp()
	s.Require().NoError(a.signup(ctx, []string{"--email", "asha@example.com", "--name", "Asha Rao"}))
	s.Require().NoError(a.register(ctx, []string{"--name", "Asha Rao", "--phone", "9876543210", "--college", "OCP"}))
	s.FileExists(s.cfg.Client.PassFile)

	s.Require().NoError(a.logout(ctx))
	s.NoFileExists(s.cfg.Client.PassFile)
	s.NoFileExists(s.cfg.Client.SessionFile)

	s.out.Reset()
	s.Require().NoError(a.logout(ctx))
	s.Equal("Not signed in.\n", s.out.String())
}

func (s *AppSuite) TestStatusShowsWithdrawnPass() {
	ctx := context.Background()
	a := s.newApp()
	s.Require().NoError(a.signup(ctx, []string{"--email", "asha@example.com", "--name", "Asha Rao"}))
	s.Require().NoError(a.register(ctx, []string{"--name", "Asha Rao", "--phone", "9876543210", "--college", "OCP"}))

	reg, _, err := s.store.FindByEmail(ctx, "asha@example.com")
	s.Require().NoError(err)
	_, err = s.store.Delete(ctx, reg.RegID)
	s.Require().NoError(err)

	s.out.Reset()
	b := s.newApp()
	s.Require().NoError(b.status(ctx))
	s.Contains(s.out.String(), "No pass: registration withdrawn.")
	s.NoFileExists(s.cfg.Client.PassFile)
}

func (s *AppSuite) TestQRWithoutPass() {
	a := s.newApp()
	s.Error(a.qr(context.Background(), nil))
	s.Contains(s.out.String(), "Not registered.")
}

func (s *AppSuite) TestSignupNeedsFlags() {
	a := s.newApp()
	s.Error(a.signup(context.Background(), []string{"--email", "asha@example.com"}))
}

func (s *AppSuite) TestRegisterWithRejectedSessionSignsInAgain() {
	ctx := context.Background()
	a := s.newApp()
	s.Require().NoError(a.signup(ctx, []string{"--email", "asha@example.com", "--name", "Asha Rao"}))
	stale := `{"uid":"u-asha","email":"asha@example.com","token":"not-a-token"}`
	s.Require().NoError(os.WriteFile(s.cfg.Client.SessionFile, []byte(stale), 0600))

	b := s.newApp()
	_, signedIn := b.gate.Current()
	s.Require().True(signedIn)

	s.Require().NoError(b.register(ctx, []string{"--name", "Asha Rao", "--phone", "9876543210", "--college", "OCP"}))
	s.Contains(s.out.String(), "Registered: PZ26-OCP-")
	tok, ok := b.gate.Token()
	s.Require().True(ok)
	s.NotEqual("not-a-token", tok)
}

func (s *AppSuite) TestStatusWithRejectedSessionAsksForSignIn() {
	ctx := context.Background()
	stale := `{"uid":"u-asha","email":"asha@example.com","token":"not-a-token"}`
	s.Require().NoError(os.WriteFile(s.cfg.Client.SessionFile, []byte(stale), 0600))

	a := s.newApp()
	s.Require().NoError(a.status(ctx))
	s.Contains(s.out.String(), "Your session has expired.")
	_, signedIn := a.gate.Current()
	s.False(signedIn)
	s.NoFileExists(s.cfg.Client.SessionFile)
}
