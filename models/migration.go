package models

import (
	"log"

	"github.com/rilaconsulting/pmpulse-sub006/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&ApiConnection{},
		&SyncRun{}, &SyncRunResource{}, &SyncRunError{},
		&SyncState{}, &SyncFailureAlert{}, &RawEvent{},
		&Property{}, &Unit{}, &Vendor{}, &WorkOrder{}, &Expense{},
		&GlAccountMapping{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
