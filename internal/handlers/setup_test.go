package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"github.com/yescateam/camp-desk-api/internal/audit"
	"github.com/yescateam/camp-desk-api/internal/auth"
	"github.com/yescateam/camp-desk-api/internal/checkin"
	"github.com/yescateam/camp-desk-api/internal/config"
	"github.com/yescateam/camp-desk-api/internal/database"
	"github.com/yescateam/camp-desk-api/internal/models"
	"github.com/yescateam/camp-desk-api/internal/otp"
	"github.com/yescateam/camp-desk-api/internal/payment"
	"github.com/yescateam/camp-desk-api/internal/registration"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	testCamp  = "YC26"
	testPhone = "+919876543210"
)

type fakeGateway struct {
	mu     sync.Mutex
	orders []payment.Order
	status map[string]*payment.Status
}

func (g *fakeGateway) CreateOrder(_ context.Context, o payment.Order) (*payment.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, o)
	return &payment.OrderResult{Code: "PAYMENT_INITIATED", RedirectURL: "https://pay.example/" + o.MerchantTransactionID}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, id string) (*payment.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.status[id]; ok {
		return st, nil
	}
	return &payment.Status{Code: payment.CodePending, State: payment.StatePending, MerchantTransactionID: id}, nil
}

func (g *fakeGateway) lastOrder(t *testing.T) payment.Order {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.orders)
	return g.orders[len(g.orders)-1]
}

// jsonDecoder stands in for the gateway's signed callback: the response field
// is the status itself as JSON.
type jsonDecoder struct{}

func (jsonDecoder) DecodeCallback(response, _ string) (*payment.Status, error) {
	var st payment.Status
	if err := json.Unmarshal([]byte(response), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type fakeSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *fakeSender) SendOTP(_ context.Context, to, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = map[string]string{}
	}
	s.codes[to] = code
	return "wamid.test", nil
}

type testEnv struct {
	api    humatest.TestAPI
	router *chi.Mux
	db     *gorm.DB
	auth   *auth.AuthHandler
	regs   *registration.Service
	gw     *fakeGateway
	sender *fakeSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		DatabaseDriver: "sqlite",
		DatabaseDSN:    filepath.Join(t.TempDir(), "camp.db") + "?_busy_timeout=5000",
		CampID:         testCamp,
		JWTSecret:      "test-secret",
		FrontendURL:    "https://camp.example",
		PublicURL:      "https://api.camp.example",
	}
	db, err := database.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, testCamp))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	logger := zap.NewNop()
	recorder := audit.NewDBRecorder(db, logger)
	authHandler := auth.NewAuthHandler(cfg, db, logger)

	regs := registration.NewService(db, testCamp, recorder,
		registration.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	gw := &fakeGateway{status: map[string]*payment.Status{}}
	payments := payment.NewService(db, gw, regs, cfg.PublicURL, nil, logger)
	sender := &fakeSender{}
	otps := otp.NewService(db, sender, authHandler, recorder, otp.WithBcryptCost(bcrypt.MinCost))
	sequencer, err := checkin.NewSequencer(checkin.NewGormStore(db), recorder, testCamp, checkin.DefaultRoster,
		checkin.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	require.NoError(t, err)

	r := chi.NewMux()
	api := RegisterRoutes(r, cfg, &Handlers{
		Auth:         authHandler,
		Registration: NewRegistrationHandler(regs, payments, jsonDecoder{}, authHandler, cfg.FrontendURL, logger),
		OTP:          NewOTPHandler(otps, authHandler, logger),
		CheckIn:      NewCheckInHandler(sequencer, authHandler, logger),
		Admin:        NewAdminHandler(db, testCamp, recorder, authHandler, logger),
		APIKeys:      NewAPIKeyHandler(db, authHandler),
	})

	return &testEnv{
		api:    humatest.Wrap(t, api),
		router: r,
		db:     db,
		auth:   authHandler,
		regs:   regs,
		gw:     gw,
		sender: sender,
	}
}

// staff creates an account with the role and returns its session cookie header.
func (e *testEnv) staff(t *testing.T, discordID string, role models.Role) (models.User, string) {
	t.Helper()
	user := models.User{DiscordID: discordID, Username: "staff-" + discordID, Role: role}
	require.NoError(t, e.db.Create(&user).Error)
	token, err := e.auth.GenerateToken(user.ID)
	require.NoError(t, err)
	return user, fmt.Sprintf("Cookie: %s=%s", auth.CookieName, token)
}

func (e *testEnv) phoneCookie(t *testing.T, number string) string {
	t.Helper()
	token, err := e.auth.IssuePhoneToken(number)
	require.NoError(t, err)
	return fmt.Sprintf("Cookie: %s=%s", auth.PhoneCookieName, token)
}

func (e *testEnv) register(t *testing.T, name string) *registration.Issued {
	t.Helper()
	form := testForm()
	form.FullName = name
	issued, err := e.regs.Create(context.Background(), registration.Input{
		Form:          form,
		Type:          models.RegistrationNormal,
		PaymentStatus: models.PaymentCompleted,
		PaymentMethod: registration.PaymentMethodCash,
		RegisteredBy:  "desk",
	})
	require.NoError(t, err)
	return issued
}

func testForm() registration.Form {
	return registration.Form{
		FullName:    "Ravi Kumar",
		PhoneNumber: "9876543210",
		Gender:      models.GenderMale,
		Age:         22,
		Believer:    "yes",
		ChurchName:  "Bethel",
		Address:     "4 Lake View, Vijayawada",
	}
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}
