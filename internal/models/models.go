package models

// All lists every persisted model, in migration order.
var All = []interface{}{
	&FiaConfig{},
	&RunLog{},
	&Signal{},
	&Result{},
	&MonthlyUsage{},
	&Reservation{},
	&AnomalyRollup{},
}
