package store

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradecore/internal/codec"
	"tradecore/internal/journal"
	"tradecore/internal/schema"
	"tradecore/pkg/conn"
)

// Config selects the SQL backend of the audit store.
type Config struct {
	Driver       string `json:"driver" yaml:"driver" validate:"omitempty,oneof=postgres mysql"`
	DSN          string `json:"dsn" yaml:"dsn"`
	MaxOpenConns int    `json:"maxOpenConns" yaml:"maxOpenConns" validate:"gte=0"`
}

// AuditRow is one journal entry.
type AuditRow struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Seq        uint64         `gorm:"column:seq;index"`
	Kind       string         `gorm:"column:kind;size:32;index"`
	Subject    string         `gorm:"column:subject;size:128;index"`
	RecordedAt time.Time      `gorm:"column:recorded_at"`
	Payload    datatypes.JSON `gorm:"column:payload"`
}

func (AuditRow) TableName() string {
	return "audit_records"
}

// OrderRow is the latest state of an order.
type OrderRow struct {
	ID         string    `gorm:"column:id;primaryKey;size:64"`
	VenueID    string    `gorm:"column:venue_id;size:128"`
	Symbol     string    `gorm:"column:symbol;size:32;index"`
	Side       string    `gorm:"column:side;size:8"`
	Status     string    `gorm:"column:status;size:24;index"`
	Qty        string    `gorm:"column:qty;size:64"`
	FilledQty  string    `gorm:"column:filled_qty;size:64"`
	AvgPrice   string    `gorm:"column:avg_price;size:64"`
	Fee        string    `gorm:"column:fee;size:64"`
	Reason     string    `gorm:"column:reason;size:255"`
	StrategyID string    `gorm:"column:strategy_id;size:64"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (OrderRow) TableName() string {
	return "orders"
}

// Store mirrors the journal into SQL.
type Store struct {
	client *conn.Client
	db     *gorm.DB
}

// Open connects and migrates the audit tables.
func Open(cfg Config) (*Store, error) {
	var (
		client *conn.Client
		err    error
	)
	pool := conn.Pool{MaxOpenConns: cfg.MaxOpenConns, MaxIdleConns: cfg.MaxOpenConns, ConnMaxLifetime: time.Hour}
	switch cfg.Driver {
	case conn.DriverMySQL:
		client, err = conn.NewMySQL(conn.MySQLOption{ConnString: cfg.DSN, Pool: pool})
	case conn.DriverPostgres, "":
		client, err = conn.New(conn.Option{ConnString: cfg.DSN, Pool: pool})
	default:
		return nil, errors.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", cfg.Driver)
	}
	s := &Store{client: client, db: client.DB()}
	if err := s.Migrate(); err != nil {
		return nil, multierr.Append(err, client.Close())
	}
	logs.Infof("audit store ready, driver: %s", client.Driver())
	return s, nil
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&AuditRow{}, &OrderRow{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

func (s *Store) Name() string { return "sql" }

// Write inserts the entries and upserts order rows in one transaction.
func (s *Store) Write(ctx context.Context, entries []journal.Entry) error {
	audits, orders := rows(entries)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(audits) > 0 {
			if err := tx.CreateInBatches(audits, 200).Error; err != nil {
				return errors.Wrap(err, "insert audit rows")
			}
		}
		if len(orders) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).Create(orders).Error
			if err != nil {
				return errors.Wrap(err, "upsert orders")
			}
		}
		return nil
	})
}

// Orders returns the latest order rows, newest first.
func (s *Store) Orders(ctx context.Context, limit int) ([]OrderRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []OrderRow
	err := s.db.WithContext(ctx).Order("updated_at desc").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// rows converts entries. Orders collapse to their last state in the batch.
func rows(entries []journal.Entry) ([]AuditRow, []OrderRow) {
	audits := make([]AuditRow, 0, len(entries))
	latest := make(map[string]int)
	var orders []OrderRow
	for _, e := range entries {
		audits = append(audits, AuditRow{
			Seq:        e.Seq,
			Kind:       e.Kind.String(),
			Subject:    e.Subject,
			RecordedAt: e.Time,
			Payload:    datatypes.JSON(e.Payload),
		})
		if e.Kind != schema.RecordOrder {
			continue
		}
		o, err := codec.DecodeOrder(e.Payload)
		if err != nil || o.ID == "" {
			logs.Errorf("skip undecodable order record, seq: %d, err: %+v", e.Seq, err)
			continue
		}
		row := orderRow(o)
		if i, ok := latest[o.ID]; ok {
			orders[i] = row
			continue
		}
		latest[o.ID] = len(orders)
		orders = append(orders, row)
	}
	return audits, orders
}

func orderRow(o schema.Order) OrderRow {
	return OrderRow{
		ID:         o.ID,
		VenueID:    o.VenueID,
		Symbol:     o.Symbol,
		Side:       o.Side.String(),
		Status:     o.Status.String(),
		Qty:        o.Qty.String(),
		FilledQty:  o.FilledQty.String(),
		AvgPrice:   o.AvgPrice.String(),
		Fee:        o.Fee.String(),
		Reason:     o.Reason,
		StrategyID: o.StrategyID,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}
