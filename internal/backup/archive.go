// Package backup dumps every period of the ledger into one archive and
// restores it, optionally through S3-compatible object storage.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/odyssey-erp/periodledger/internal/ledger"
	"github.com/odyssey-erp/periodledger/internal/periods"
)

// ArchiveVersion is the layout version written by Encode.
const ArchiveVersion = 1

// Archive is a full dump of the catalog and every period's tables.
type Archive struct {
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	ActivePeriod string          `json:"active_period,omitempty"`
	Periods      []PeriodArchive `json:"periods"`
}

// PeriodArchive is one period's catalog row and data.
type PeriodArchive struct {
	Period periods.FiscalPeriod `json:"period"`
	Data   ledger.Snapshot      `json:"data"`
}

// Encode writes the archive as indented JSON.
func Encode(w io.Writer, a Archive) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

// Decode reads an archive and checks its version.
func Decode(r io.Reader) (Archive, error) {
	var a Archive
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return Archive{}, fmt.Errorf("%w: decode archive: %v", ledger.ErrValidation, err)
	}
	if err := a.validate(); err != nil {
		return Archive{}, err
	}
	return a, nil
}

func (a Archive) validate() error {
	if a.Version != ArchiveVersion {
		return fmt.Errorf("%w: unsupported archive version %d", ledger.ErrValidation, a.Version)
	}
	seen := make(map[string]struct{}, len(a.Periods))
	for _, p := range a.Periods {
		if !periods.ValidID(p.Period.ID) {
			return fmt.Errorf("%w: invalid period id %q", ledger.ErrValidation, p.Period.ID)
		}
		if _, dup := seen[p.Period.ID]; dup {
			return fmt.Errorf("%w: period %q archived twice", ledger.ErrValidation, p.Period.ID)
		}
		seen[p.Period.ID] = struct{}{}
	}
	if _, ok := seen[a.ActivePeriod]; a.ActivePeriod != "" && !ok {
		return fmt.Errorf("%w: active period %q not in archive", ledger.ErrValidation, a.ActivePeriod)
	}
	return nil
}
