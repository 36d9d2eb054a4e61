package storeclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/pz26/confpass/internal/auth"
	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/middleware"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/registrations"
	"github.com/pz26/confpass/internal/stats"
	"github.com/pz26/confpass/internal/storeclient"
)

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

// ClientSuite runs the client against the real server handlers backed by
// the in-memory store.
type ClientSuite struct {
	suite.Suite
	srv    *httptest.Server
	store  *registrations.Memory
	client *storeclient.Client
	svc    *registrations.Service
	uid    string
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.store = registrations.NewMemory(registrations.DefaultRetryPolicy())
	s.Require().NoError(s.store.BootstrapCounter(context.Background(), "PZ26-OCP", 1))

	jwtSvc := auth.NewJWTService("test-secret", 1)
	serverSvc := registrations.NewService(s.store, "password", nil)
	statsSvc := stats.NewService(s.store, nil, 0, nil)
	h := registrations.NewHandler(serverSvc, s.store, statsSvc, nil)

	r := gin.New()
	r.GET("/stats/participants", stats.NewHandler(statsSvc, nil).Participants)
	api := r.Group("")
	api.Use(middleware.JWT(jwtSvc, auth.NewMemoryRevocations(), nil))
	api.POST("/registrations", h.Register)
	api.GET("/registrations", h.FindByEmail)
	api.GET("/registrations/:regId", h.Get)
	s.srv = httptest.NewServer(r)
	s.T().Cleanup(s.srv.Close)

	id := uuid.New()
	s.uid = id.String()
	tok, err := jwtSvc.Generate(id, "asha@example.com", string(models.RoleAttendee))
	s.Require().NoError(err)
	s.client = storeclient.New(s.srv.URL, s.srv.Client(), staticToken(tok), nil)
	s.svc = registrations.NewService(s.client, "password", nil)
}

var fields = registrations.Fields{FullName: "Asha Rao", Phone: "+91 98765-43210", College: "OCP"}

func (s *ClientSuite) TestRegisterThroughClient() {
	ctx := context.Background()

	_, found, err := s.client.FindByEmail(ctx, "asha@example.com")
	s.Require().NoError(err)
	s.False(found)

	reg, created, err := s.svc.Register(ctx, fields, s.uid, "asha@example.com")
	s.Require().NoError(err)
	s.True(created)
	s.Equal("PZ26-OCP-000001", reg.RegID)
	s.Equal("+919876543210", reg.Phone)

	got, found, err := s.client.GetByRegID(ctx, reg.RegID)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(reg.QRText, got.QRText)

	exists, err := s.client.Exists(ctx, "PZ26-OCP-000099")
	s.Require().NoError(err)
	s.False(exists)

	n, err := s.client.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *ClientSuite) TestAllocateExistingReportsDuplicate() {
	ctx := context.Background()
	first, err := s.client.Allocate(ctx, models.Registration{FullName: "Asha Rao", Phone: "+919876543210", College: "OCP"})
	s.Require().NoError(err)

	_, err = s.client.Allocate(ctx, models.Registration{FullName: "Asha Rao", Phone: "+919876543210", College: "OCP"})
	s.ErrorIs(err, registrations.ErrDuplicateEmail)

	reg, created, err := s.svc.Register(ctx, fields, s.uid, "asha@example.com")
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.RegID, reg.RegID)
	s.Len(s.store.All(), 1)
}

func (s *ClientSuite) TestRevokedRegistrationReadsAsAbsent() {
	ctx := context.Background()
	reg, _, err := s.svc.Register(ctx, fields, s.uid, "asha@example.com")
	s.Require().NoError(err)

	deleted, err := s.store.Delete(ctx, reg.RegID)
	s.Require().NoError(err)
	s.True(deleted)

	_, found, err := s.client.GetByRegID(ctx, reg.RegID)
	s.Require().NoError(err)
	s.False(found)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"counter missing", http.StatusInternalServerError, `{"success":false,"error":"x","code":"counter_missing"}`, registrations.ErrCounterMissing},
		{"collision", http.StatusConflict, `{"success":false,"error":"x","code":"serial_collision"}`, registrations.ErrSerialCollision},
		{"conflict", http.StatusConflict, `{"success":false,"error":"x","code":"allocation_conflict"}`, registrations.ErrAllocationConflict},
		{"validation", http.StatusBadRequest, `{"success":false,"error":"phone is invalid","code":"validation"}`, registrations.ErrValidation},
		{"unavailable", http.StatusServiceUnavailable, `{"success":false,"error":"x","code":"store_unavailable"}`, registrations.ErrStoreUnavailable},
		{"uncoded 500", http.StatusInternalServerError, `{"success":false,"error":"x"}`, registrations.ErrStoreUnavailable},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, registrations.ErrStoreUnavailable},
		{"expired", http.StatusUnauthorized, `{"success":false,"error":"invalid token"}`, identity.ErrSessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := storeclient.New(srv.URL, srv.Client(), nil, nil)
			_, err := c.Allocate(context.Background(), models.Registration{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := storeclient.New(srv.URL, nil, nil, nil)
	_, _, err := c.GetByRegID(context.Background(), "PZ26-OCP-000001")
	require.Error(t, err)
	assert.True(t, errors.Is(err, registrations.ErrStoreUnavailable))
}

func TestPlainNotFoundIsNotAbsence(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := storeclient.New(srv.URL, srv.Client(), nil, nil)
	_, found, err := c.FindByEmail(context.Background(), "a@b.co")
	assert.False(t, found)
	assert.ErrorIs(t, err, registrations.ErrStoreUnavailable)
}
