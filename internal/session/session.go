// Package session persists the single signed-in session and the journey
// accessor shared by the trip coordinator and the location sampler.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/smallbiznis/roadfuel/internal/clock"
	"github.com/smallbiznis/roadfuel/internal/validation"
	"github.com/smallbiznis/roadfuel/internal/wire"
	storedb "github.com/smallbiznis/roadfuel/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNoSession = errors.New("no_session")

type Session struct {
	Token        string `json:"-"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
	UserEmail    string `json:"user_email"`
	TenantDomain string `json:"tenant_domain"`
}

type authRow struct {
	ID           int64  `gorm:"column:id;primaryKey"`
	Token        string `gorm:"column:token"`
	UserID       string `gorm:"column:user_id"`
	UserName     string `gorm:"column:user_name"`
	UserEmail    string `gorm:"column:user_email"`
	TenantDomain string `gorm:"column:tenant_domain"`
	CreatedAt    string `gorm:"column:created_at"`
}

func (authRow) TableName() string { return "auth" }

// TeardownHook runs after the session row was removed.
type TeardownHook func(ctx context.Context, reason string)

type Params struct {
	fx.In

	DB    *gorm.DB
	Clock clock.Clock
	Log   *zap.Logger
}

type Manager struct {
	db      *gorm.DB
	clock   clock.Clock
	log     *zap.Logger
	journey *Journey

	mu      sync.RWMutex
	current *Session
	hooks   []TeardownHook
}

func NewManager(p Params) *Manager {
	return &Manager{
		db:      p.DB,
		clock:   p.Clock,
		log:     p.Log.Named("session"),
		journey: NewJourney(),
	}
}

// Load restores the persisted session, if any.
func (m *Manager) Load(ctx context.Context) error {
	var row authRow
	err := m.db.WithContext(ctx).Where("id = ?", 1).First(&row).Error
	if storedb.IsNotFound(err) {
		m.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	m.set(&Session{
		Token:        row.Token,
		UserID:       row.UserID,
		UserName:     row.UserName,
		UserEmail:    row.UserEmail,
		TenantDomain: row.TenantDomain,
	})
	m.log.Info("session.restored", zap.String("tenant", row.TenantDomain), zap.String("user_id", row.UserID))
	return nil
}

// Begin replaces whatever session was stored.
func (m *Manager) Begin(ctx context.Context, s Session) error {
	v := &validation.Errors{}
	s.Token = v.Required("token", s.Token)
	s.TenantDomain = v.Required("tenant_domain", NormalizeTenant(s.TenantDomain))
	if err := v.Err(); err != nil {
		return err
	}

	row := authRow{
		ID:           1,
		Token:        s.Token,
		UserID:       s.UserID,
		UserName:     s.UserName,
		UserEmail:    s.UserEmail,
		TenantDomain: s.TenantDomain,
		CreatedAt:    wire.FormatISO(m.clock.Now()),
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	m.set(&s)
	m.log.Info("session.started", zap.String("tenant", s.TenantDomain), zap.String("user_id", s.UserID))
	return nil
}

func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

func (m *Manager) TenantDomain() string {
	s, _ := m.Current()
	return s.TenantDomain
}

// Credentials feeds the gateway; ok is false without a session.
func (m *Manager) Credentials(context.Context) (string, string, bool) {
	s, ok := m.Current()
	return s.Token, s.TenantDomain, ok
}

func (m *Manager) Journey() *Journey { return m.journey }

func (m *Manager) OnTeardown(hook TeardownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Teardown forgets the session locally. Pending queues are kept: they
// belong to the device and replay once someone signs in again.
func (m *Manager) Teardown(ctx context.Context, reason string) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where("id = ?", 1).Delete(&authRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	m.mu.Lock()
	had := m.current != nil
	m.current = nil
	hooks := append([]TeardownHook(nil), m.hooks...)
	m.mu.Unlock()

	m.journey.Reset()
	if had {
		m.log.Warn("session.teardown", zap.String("reason", reason))
	}
	for _, hook := range hooks {
		hook(ctx, reason)
	}
	return nil
}

func (m *Manager) set(s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

// tenantAliases maps short tenant names drivers type to their full domain.
var tenantAliases = map[string]string{
	"webfixerr": "webfixerr.spinthewheel.in",
}

// NormalizeTenant strips scheme, path and case from a tenant domain and
// expands known short names.
func NormalizeTenant(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	if full, ok := tenantAliases[d]; ok {
		return full
	}
	return d
}
