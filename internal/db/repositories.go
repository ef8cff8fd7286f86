package db

import "gorm.io/gorm"

type Repositories struct {
	Transactor         *Transactor
	Users              *UserRepository
	DayMarks           *DayMarkRepository
	ClickEvents        *ClickEventRepository
	Runs               *RunRepository
	RunBackups         *RunBackupRepository
	RunTotals          *RunTotalsRepository
	ReconciliationLogs *ReconciliationLogRepository
}

func NewRepositories(database *gorm.DB) *Repositories {
	return &Repositories{
		Transactor:         NewTransactor(database),
		Users:              NewUserRepository(database),
		DayMarks:           NewDayMarkRepository(database),
		ClickEvents:        NewClickEventRepository(database),
		Runs:               NewRunRepository(database),
		RunBackups:         NewRunBackupRepository(database),
		RunTotals:          NewRunTotalsRepository(database),
		ReconciliationLogs: NewReconciliationLogRepository(database),
	}
}
