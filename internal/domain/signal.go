package domain

import "time"

// PredictionChannelPrefix prefixes the bus channel of each prediction.
const PredictionChannelPrefix = "ch:prediction:"

// PredictionChannel returns the bus channel for lifecycle events of one prediction.
func PredictionChannel(address string) string {
	return PredictionChannelPrefix + address
}

// Lifecycle event kinds published on the signal bus.
const (
	SignalPredictionCreated   = "prediction_created"
	SignalPredictionPublished = "prediction_published"
	SignalUnitBought          = "unit_bought"
	SignalPredictionResolved  = "prediction_resolved"
	SignalUnitsWithdrawn      = "units_withdrawn"
)

// LifecycleSignal is the payload published for prediction lifecycle changes.
type LifecycleSignal struct {
	Kind       string         `json:"kind"`
	Prediction string         `json:"prediction"`
	TxHash     string         `json:"transactionHash,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
