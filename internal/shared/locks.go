package shared

import "fmt"

// PeriodLockKey builds the redis key guarding writes that span a whole period.
func PeriodLockKey(periodID string) string {
	return fmt.Sprintf("ledger:period:%s:lock", periodID)
}

// StatementVersionKey builds the redis key holding a period's statement cache version.
func StatementVersionKey(periodID string) string {
	return fmt.Sprintf("ledger:period:%s:statements:version", periodID)
}
