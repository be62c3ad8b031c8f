package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockingUpdate is a gorm scope that takes a row-level FOR UPDATE lock.
// sqlite has no row locks and serializes writers on its own, so the clause
// is skipped there to keep the generated SQL valid.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
