// Package periods manages the catalog of fiscal periods and the isolated
// ledger store that backs each of them.
package periods

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/periodledger/internal/ledger"
)

var (
	// ErrDuplicatePeriod indicates a period id already present in the catalog.
	ErrDuplicatePeriod = errors.New("periods: period already exists")
	// ErrPeriodInUse indicates an attempt to delete the active period.
	ErrPeriodInUse = errors.New("periods: period is active")
	// ErrPeriodNotFound indicates an unknown period id.
	ErrPeriodNotFound = errors.New("periods: period not found")
	// ErrNoActivePeriod indicates no period has been activated yet.
	ErrNoActivePeriod = errors.New("periods: no active period")
)

// ActiveAlias resolves to the active period wherever an id is accepted.
const ActiveAlias = "active"

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,39}$`)
	yearID    = regexp.MustCompile(`^[0-9]{4}$`)
)

// ValidID reports whether id can name a period. Valid ids map to safe schema
// and key names in every backend.
func ValidID(id string) bool {
	return id != ActiveAlias && idPattern.MatchString(id)
}

// FiscalPeriod is one catalog row.
type FiscalPeriod struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate string    `json:"start_date,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OpeningDate is the date stamped on carried-forward opening entries: the
// start date when set, January 1st for year-named periods, otherwise today.
func (p FiscalPeriod) OpeningDate(now time.Time) string {
	switch {
	case p.StartDate != "":
		return p.StartDate
	case yearID.MatchString(p.ID):
		return p.ID + "-01-01"
	default:
		return now.Format(ledger.DateLayout)
	}
}

// CreatePeriodInput is the payload for CreatePeriod.
type CreatePeriodInput struct {
	ID        string `json:"id" validate:"required,periodid"`
	Name      string `json:"name" validate:"max=200"`
	StartDate string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Activate  bool   `json:"activate"`
}

// Catalog persists period metadata and the active-period setting.
type Catalog interface {
	ListPeriods(ctx context.Context) ([]FiscalPeriod, error)
	// GetPeriod returns ErrPeriodNotFound for unknown ids.
	GetPeriod(ctx context.Context, id string) (FiscalPeriod, error)
	// InsertPeriod returns ErrDuplicatePeriod on id conflict.
	InsertPeriod(ctx context.Context, p FiscalPeriod) error
	DeletePeriod(ctx context.Context, id string) error
	// ActivePeriod returns "" when no period is active.
	ActivePeriod(ctx context.Context) (string, error)
	SetActivePeriod(ctx context.Context, id string) error
	// UpsertPeriods writes the given rows as-is and leaves others untouched.
	UpsertPeriods(ctx context.Context, ps []FiscalPeriod) error
}

// Backend provisions and opens the isolated per-period stores.
type Backend interface {
	// Provision creates the fixed schema for id. It is a no-op when the
	// store already exists.
	Provision(ctx context.Context, id string) error
	Open(ctx context.Context, id string) (ledger.Store, error)
	Destroy(ctx context.Context, id string) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("periodid", func(fl validator.FieldLevel) bool {
		return ValidID(fl.Field().String())
	})
	return v
}
