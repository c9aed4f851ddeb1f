package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/shubham-shewale/market-alerts/pkg/config"
	"github.com/shubham-shewale/market-alerts/pkg/metrics"
	"github.com/shubham-shewale/market-alerts/pkg/models"
)

var _ AlertStore = (*PostgresAlertStore)(nil)

type alertRow struct {
	ID          string     `gorm:"primaryKey;size:36"`
	OwnerID     string     `gorm:"index;size:64;not null"`
	Symbol      string     `gorm:"index;size:16;not null"`
	Condition   string     `gorm:"not null"`
	Status      string     `gorm:"index;size:16;not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`
	ExpiresAt   *time.Time `gorm:"index"`
	TriggeredAt *time.Time
}

func (alertRow) TableName() string { return "alerts" }

func rowFromAlert(a models.Alert) alertRow {
	return alertRow{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Symbol:      a.Symbol,
		Condition:   a.Condition,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
		ExpiresAt:   a.ExpiresAt,
		TriggeredAt: a.TriggeredAt,
	}
}

func (r alertRow) alert() models.Alert {
	return models.Alert{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Symbol:      r.Symbol,
		Condition:   r.Condition,
		Status:      models.AlertStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
		ExpiresAt:   utcPtr(r.ExpiresAt),
		TriggeredAt: utcPtr(r.TriggeredAt),
	}
}

// PostgresAlertStore is the durable alert store. Guarded writes are plain
// UPDATE ... WHERE status = ? statements; RowsAffected is the CAS outcome.
type PostgresAlertStore struct {
	db        *gorm.DB
	publisher Publisher
}

func NewPostgresAlertStore(db *gorm.DB, publisher Publisher) *PostgresAlertStore {
	return &PostgresAlertStore{db: db, publisher: publisher}
}

// OpenPostgres connects with the configured DSN (or one built from the parts) and migrates the alerts table.
func OpenPostgres(cfg config.PostgresConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.Open(PostgresDSN(cfg)), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&alertRow{}); err != nil {
		return nil, fmt.Errorf("migrate alerts: %w", err)
	}
	return db, nil
}

// PostgresDSN returns cfg.DSN when set, otherwise a postgres:// URL assembled from the parts.
func PostgresDSN(cfg config.PostgresConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Database != "" {
		u.Path = "/" + cfg.Database
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	return u.String()
}

func (s *PostgresAlertStore) Insert(ctx context.Context, a models.Alert) error {
	if !a.Status.Valid() {
		return fmt.Errorf("invalid alert status %q", a.Status)
	}
	row := rowFromAlert(a)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	s.publish(ctx, models.ChangeInsert, a, nil)
	return nil
}

func (s *PostgresAlertStore) Get(ctx context.Context, id string) (models.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Alert{}, err
	}
	return row.alert(), nil
}

func (s *PostgresAlertStore) ListActive(ctx context.Context) ([]models.Alert, error) {
	return s.list(ctx, "status = ?", string(models.AlertActive))
}

func (s *PostgresAlertStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Alert, error) {
	return s.list(ctx, "owner_id = ?", ownerID)
}

func (s *PostgresAlertStore) list(ctx context.Context, query string, args ...any) ([]models.Alert, error) {
	var rows []alertRow
	if err := s.db.WithContext(ctx).Where(query, args...).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	alerts := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.alert())
	}
	return alerts, nil
}

func (s *PostgresAlertStore) Transition(ctx context.Context, id string, expected, next models.AlertStatus, at time.Time) (int64, error) {
	updates := map[string]any{"status": string(next), "updated_at": at.UTC()}
	if next == models.AlertTriggered {
		updates["triggered_at"] = at.UTC()
	}

	res := s.db.WithContext(ctx).
		Model(&alertRow{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("transition alert %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		s.publishTransition(ctx, id, expected)
	}
	return res.RowsAffected, nil
}

func (s *PostgresAlertStore) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	var rows []alertRow
	res := s.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "id"}}}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", string(models.AlertActive), now.UTC()).
		Updates(map[string]any{"status": string(models.AlertExpired), "updated_at": now.UTC()})
	if res.Error != nil {
		return nil, fmt.Errorf("expire alerts: %w", res.Error)
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		s.publishTransition(ctx, r.ID, models.AlertActive)
	}
	return ids, nil
}

func (s *PostgresAlertStore) publishTransition(ctx context.Context, id string, from models.AlertStatus) {
	if s.publisher == nil {
		return
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		metrics.ChangePublishFailures.WithLabelValues(models.TableAlerts).Inc()
		return
	}
	prev := a
	prev.Status = from
	s.publish(ctx, models.ChangeUpdate, a, prev)
}

func (s *PostgresAlertStore) publish(ctx context.Context, typ models.ChangeType, a models.Alert, previous any) {
	_ = publishChange(ctx, s.publisher, models.TableAlerts, a.OwnerID, typ, a.ID, a, previous)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
