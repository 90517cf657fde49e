// internal/model/events.go
package model

import "time"

// CoinEvent represents a single accepted coin
type CoinEvent struct {
	Denomination int       `json:"denomination"` // 1, 5 or 10 pesos
	Timestamp    time.Time `json:"timestamp"`
}

// BillEvent represents a single accepted bill
type BillEvent struct {
	Amount    int       `json:"amount"` // integer pesos
	Timestamp time.Time `json:"timestamp"`
}

// SensorReading represents one infrared sensor sample
type SensorReading struct {
	Sensor    int       `json:"sensor"`
	Blocked   bool      `json:"blocked"`
	Timestamp time.Time `json:"timestamp"`
}

// TemperatureReading represents a labeled temperature/humidity telemetry line
type TemperatureReading struct {
	Label       string    `json:"label"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}
