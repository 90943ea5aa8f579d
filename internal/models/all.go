package models

// All lists every model for AutoMigrate
func All() []interface{} {
	return []interface{}{
		&Human{},
		&Bot{},
		&Venture{},
		&VentureParticipant{},
		&PooledInvestor{},
		&LockVote{},
		&Task{},
		&WorkItem{},
		&Transaction{},
		&PlatformStat{},
		&Job{},
		&JobStep{},
		&JobCollaborator{},
		&Violation{},
		&Dispute{},
		&DisputeTestimony{},
		&ProcessedWebhook{},
	}
}
