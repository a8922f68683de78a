package dispatch

import (
	"context"
	"database/sql"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"pharmacyDispatch/internal/testutil"
	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"
)

// fakeClock is a manually advanced Clock. It starts at wall time so that
// SQLite's CURRENT_TIMESTAMP defaults stay coherent with it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db            *sql.DB
	clock         *fakeClock
	hub           *Hub
	users         *repository.UserRepository
	providers     *repository.ProviderRepository
	orders        *repository.OrderRepository
	broadcasts    *repository.BroadcastRepository
	notifications *repository.NotificationRepository
	assignments   *repository.AssignmentRepository
	engine        *Engine
	arbiter       *Arbiter
}

func newTestEnv(t *testing.T, name string, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvDB(t, testutil.OpenInMemoryDB(t, name), cfg)
}

// newFileTestEnv backs the env with a temp-file database. Concurrency tests
// need it: file-backed WAL locks go through the busy handler, where
// shared-cache in-memory table locks do not.
func newFileTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvDB(t, testutil.OpenFileDB(t), cfg)
}

func newTestEnvDB(t *testing.T, d *sql.DB, cfg Config) *testEnv {
	t.Helper()
	clock := newFakeClock()
	hub := NewHub()
	env := &testEnv{
		db:            d,
		clock:         clock,
		hub:           hub,
		users:         repository.NewUserRepository(d),
		providers:     repository.NewProviderRepository(d),
		orders:        repository.NewOrderRepository(d),
		broadcasts:    repository.NewBroadcastRepository(d),
		notifications: repository.NewNotificationRepository(d),
		assignments:   repository.NewAssignmentRepository(d),
	}
	logger := log.New(os.Stderr, "test ", log.LstdFlags)
	notifier := NewNotifier(env.notifications, nil, logger)
	env.engine = NewEngine(env.broadcasts, env.orders, env.providers, env.notifications, notifier, hub, clock, cfg, logger)
	env.arbiter = NewArbiter(env.broadcasts, env.orders, env.notifications, env.assignments, hub, clock, env.engine, logger)
	return env
}

func (e *testEnv) seedUser(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.users.Create(context.Background(), username)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func (e *testEnv) seedOrder(t *testing.T, userID int64, status models.OrderStatus, lat, lng float64) *models.Order {
	t.Helper()
	o, err := e.orders.Create(context.Background(), &models.Order{
		DestLat:     lat,
		DestLng:     lng,
		Items:       "paracetamol 500mg x2",
		SubmittedBy: userID,
		Status:      status,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

// seedProvider creates a verified, available provider latOffset degrees north
// of the origin with a location heartbeat at the current fake time. One
// degree of latitude is roughly 111 km.
func (e *testEnv) seedProvider(t *testing.T, name string, kind models.ProviderKind, lat, lng float64) *models.Provider {
	t.Helper()
	at := e.clock.Now().Unix()
	p, err := e.providers.Create(context.Background(), &models.Provider{
		Name:       name,
		Kind:       kind,
		Lat:        &lat,
		Lng:        &lng,
		LocationAt: &at,
		Available:  true,
		Verified:   true,
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return p
}

func (e *testEnv) heartbeat(t *testing.T, providerID int64, lat, lng float64) {
	t.Helper()
	if err := e.providers.Heartbeat(context.Background(), providerID, lat, lng, e.clock.Now().Unix()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
}

func (e *testEnv) reload(t *testing.T, broadcastID int64) *models.BroadcastRecord {
	t.Helper()
	b, err := e.broadcasts.GetByID(context.Background(), broadcastID)
	if err != nil {
		t.Fatalf("reload broadcast: %v", err)
	}
	if b == nil {
		t.Fatalf("broadcast %d vanished", broadcastID)
	}
	return b
}
