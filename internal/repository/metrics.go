package repository

import "time"

// Metrics receives operation and subscription events.
type Metrics interface {
	ObserveOperation(op string, d time.Duration, err error)
	SubscriptionStarted(op string)
	SubscriptionEnded(op string, failed bool)
	Emitted(op string)
}

type NopMetrics struct{}

func (NopMetrics) ObserveOperation(string, time.Duration, error) {}
func (NopMetrics) SubscriptionStarted(string)                   {}
func (NopMetrics) SubscriptionEnded(string, bool)               {}
func (NopMetrics) Emitted(string)                               {}
