package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Durable state + audit journal
// ═══════════════════════════════════════════════════════════════════════════════

// Database implements ports.Store on gorm. SaveState runs in one transaction
// per market, so recovery never observes a position without its fills.
type Database struct {
	db *gorm.DB
}

// Models

// PositionRecord persists one market's inventory for crash recovery.
type PositionRecord struct {
	MarketID    string          `gorm:"primaryKey"`
	YesQty      decimal.Decimal `gorm:"type:decimal(20,6)"`
	YesAvgPrice decimal.Decimal `gorm:"type:decimal(10,6)"`
	NoQty       decimal.Decimal `gorm:"type:decimal(20,6)"`
	NoAvgPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	Version     int64
	UpdatedAt   time.Time
}

// AppliedFill records a fill id already booked into a position, so replays
// after a restart dedup correctly.
type AppliedFill struct {
	FillID   string          `gorm:"primaryKey"`
	MarketID string          `gorm:"index"`
	Size     decimal.Decimal `gorm:"type:decimal(20,6)"`
}

// OrderRecord persists an order across restarts. Fills carries the fill ids
// already counted into FilledSize, so venue replays after recovery dedup
// instead of double-counting.
type OrderRecord struct {
	ClientID   string `gorm:"primaryKey"`
	VenueID    string `gorm:"index"`
	MarketID   string `gorm:"index"`
	TokenID    string
	Leg        string
	Action     string
	Price      decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size       decimal.Decimal `gorm:"type:decimal(20,6)"`
	FilledSize decimal.Decimal `gorm:"type:decimal(20,6)"`
	State      string          `gorm:"index"`
	Attempts   int
	Reason     string
	History    string // JSON event list
	Fills      string // JSON fill id list
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AuditEvent is one immutable audit record: an order transition or a fill.
type AuditEvent struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	MarketID string `gorm:"index"`
	Kind     string // "transition" or "fill"
	RefID    string // client id or fill id
	Detail   string // JSON payload
	At       time.Time
}

// RiskStateRecord is the per-market, per-day risk ledger row.
type RiskStateRecord struct {
	MarketID    string          `gorm:"primaryKey"`
	Day         string          `gorm:"primaryKey"` // YYYY-MM-DD, UTC
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	Halted      bool
	HaltReason  string
	UpdatedAt   time.Time
}

// WindowRecord journals one trading window for offline analysis.
type WindowRecord struct {
	MarketID   string `gorm:"primaryKey"`
	Symbol     string
	Strike     decimal.Decimal `gorm:"type:decimal(20,6)"`
	RefStart   string
	RefEnd     string
	Outcome    string
	ResolvesAt time.Time
	CreatedAt  time.Time
	ClosedAt   *time.Time
}

// New opens the store. A postgres:// DSN selects PostgreSQL; anything else is
// treated as a SQLite path.
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&PositionRecord{},
		&AppliedFill{},
		&OrderRecord{},
		&AuditEvent{},
		&RiskStateRecord{},
		&WindowRecord{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// SaveState writes one market's position, applied-fill set, and live orders
// in a single transaction.
func (d *Database) SaveState(ctx context.Context, st ports.MarketState) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := PositionRecord{
			MarketID:    st.Position.MarketID,
			YesQty:      st.Position.YesQty,
			YesAvgPrice: st.Position.YesAvgPrice,
			NoQty:       st.Position.NoQty,
			NoAvgPrice:  st.Position.NoAvgPrice,
			RealizedPnL: st.Position.RealizedPnL,
			Version:     st.Position.Version,
			UpdatedAt:   st.Position.UpdatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}

		for fillID, size := range st.Applied {
			af := AppliedFill{FillID: fillID, MarketID: st.Position.MarketID, Size: size}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&af).Error; err != nil {
				return err
			}
		}

		for _, o := range st.Orders {
			rec, err := orderRecord(o)
			if err != nil {
				return err
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveOrder upserts a single order row outside the tick snapshot. Called when
// an order reaches a terminal state so the final row is never resurrected as
// live on the next restart.
func (d *Database) SaveOrder(ctx context.Context, o *execution.Order) error {
	rec, err := orderRecord(o)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func orderRecord(o *execution.Order) (OrderRecord, error) {
	history, err := json.Marshal(o.History)
	if err != nil {
		return OrderRecord{}, err
	}
	fills, err := json.Marshal(o.AppliedFillIDs())
	if err != nil {
		return OrderRecord{}, err
	}
	return OrderRecord{
		ClientID:   o.ClientID,
		VenueID:    o.VenueID,
		MarketID:   o.MarketID,
		TokenID:    o.TokenID,
		Leg:        string(o.Leg),
		Action:     string(o.Action),
		Price:      o.Price,
		Size:       o.Size,
		FilledSize: o.FilledSize,
		State:      string(o.State),
		Attempts:   o.Attempts,
		Reason:     o.Reason,
		History:    string(history),
		Fills:      string(fills),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}, nil
}

// LoadState reads back a market's persisted state. The boolean is false when
// the market has never been saved.
func (d *Database) LoadState(ctx context.Context, marketID string) (ports.MarketState, bool, error) {
	var st ports.MarketState

	var rec PositionRecord
	err := d.db.WithContext(ctx).First(&rec, "market_id = ?", marketID).Error
	if err == gorm.ErrRecordNotFound {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}

	st.Position = position.Position{
		MarketID:    rec.MarketID,
		YesQty:      rec.YesQty,
		YesAvgPrice: rec.YesAvgPrice,
		NoQty:       rec.NoQty,
		NoAvgPrice:  rec.NoAvgPrice,
		RealizedPnL: rec.RealizedPnL,
		Version:     rec.Version,
		UpdatedAt:   rec.UpdatedAt,
	}

	var fills []AppliedFill
	if err := d.db.WithContext(ctx).Find(&fills, "market_id = ?", marketID).Error; err != nil {
		return st, false, err
	}
	st.Applied = make(map[string]decimal.Decimal, len(fills))
	for _, f := range fills {
		st.Applied[f.FillID] = f.Size
	}

	var orders []OrderRecord
	err = d.db.WithContext(ctx).
		Where("market_id = ? AND state NOT IN ?", marketID,
			[]string{string(execution.StateFilled), string(execution.StateCancelled), string(execution.StateRejected)}).
		Find(&orders).Error
	if err != nil {
		return st, false, err
	}
	for _, rec := range orders {
		var history []execution.Event
		if rec.History != "" {
			if err := json.Unmarshal([]byte(rec.History), &history); err != nil {
				log.Warn().Err(err).Str("client_id", rec.ClientID).Msg("Order history unreadable, dropped")
			}
		}
		var fillIDs []string
		if rec.Fills != "" {
			if err := json.Unmarshal([]byte(rec.Fills), &fillIDs); err != nil {
				log.Warn().Err(err).Str("client_id", rec.ClientID).Msg("Order fill ids unreadable, dropped")
			}
		}
		o := &execution.Order{
			ClientID:   rec.ClientID,
			VenueID:    rec.VenueID,
			MarketID:   rec.MarketID,
			TokenID:    rec.TokenID,
			Leg:        market.Leg(rec.Leg),
			Action:     market.Action(rec.Action),
			Price:      rec.Price,
			Size:       rec.Size,
			FilledSize: rec.FilledSize,
			State:      execution.State(rec.State),
			Attempts:   rec.Attempts,
			Reason:     rec.Reason,
			CreatedAt:  rec.CreatedAt,
			UpdatedAt:  rec.UpdatedAt,
			History:    history,
		}
		o.RestoreFills(fillIDs)
		st.Orders = append(st.Orders, o)
	}

	return st, true, nil
}

// AuditTransition journals one order state transition.
func (d *Database) AuditTransition(ctx context.Context, o *execution.Order, ev execution.Event) error {
	detail, err := json.Marshal(map[string]string{
		"from": string(ev.From),
		"to":   string(ev.To),
		"note": ev.Note,
		"leg":  string(o.Leg),
	})
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(&AuditEvent{
		MarketID: o.MarketID,
		Kind:     "transition",
		RefID:    o.ClientID,
		Detail:   string(detail),
		At:       ev.At,
	}).Error
}

// AuditFill journals one applied fill.
func (d *Database) AuditFill(ctx context.Context, fill position.FillEvent) error {
	detail, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Create(&AuditEvent{
		MarketID: fill.MarketID,
		Kind:     "fill",
		RefID:    fill.ID,
		Detail:   string(detail),
		At:       fill.At,
	}).Error
}

// SaveRiskState upserts the day's risk ledger entry for a market.
func (d *Database) SaveRiskState(ctx context.Context, st ports.RiskState) error {
	rec := RiskStateRecord{
		MarketID:    st.MarketID,
		Day:         st.Day,
		RealizedPnL: st.RealizedPnL,
		Halted:      st.Halted,
		HaltReason:  st.HaltReason,
		UpdatedAt:   time.Now(),
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// LoadRiskState reads a market's ledger entry for a day.
func (d *Database) LoadRiskState(ctx context.Context, marketID, day string) (ports.RiskState, bool, error) {
	var rec RiskStateRecord
	err := d.db.WithContext(ctx).First(&rec, "market_id = ? AND day = ?", marketID, day).Error
	if err == gorm.ErrRecordNotFound {
		return ports.RiskState{}, false, nil
	}
	if err != nil {
		return ports.RiskState{}, false, err
	}
	return ports.RiskState{
		MarketID:    rec.MarketID,
		Day:         rec.Day,
		RealizedPnL: rec.RealizedPnL,
		Halted:      rec.Halted,
		HaltReason:  rec.HaltReason,
	}, true, nil
}

// SaveWindow records a new trading window with its starting reference price.
func (d *Database) SaveWindow(ctx context.Context, m market.Market, refStart string) error {
	rec := WindowRecord{
		MarketID:   m.ID,
		Symbol:     m.ReferenceSym,
		Strike:     m.Strike,
		RefStart:   refStart,
		ResolvesAt: m.ResolvesAt,
		CreatedAt:  time.Now(),
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

// CloseWindow stamps a window with its final reference price and outcome.
func (d *Database) CloseWindow(ctx context.Context, marketID, refEnd, outcome string) error {
	now := time.Now()
	return d.db.WithContext(ctx).Model(&WindowRecord{}).
		Where("market_id = ? AND closed_at IS NULL", marketID).
		Updates(map[string]any{"ref_end": refEnd, "outcome": outcome, "closed_at": &now}).Error
}

// RecentAudit returns the latest audit records for the health readout.
func (d *Database) RecentAudit(ctx context.Context, marketID string, limit int) ([]AuditEvent, error) {
	var out []AuditEvent
	err := d.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("id DESC").Limit(limit).
		Find(&out).Error
	return out, err
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
