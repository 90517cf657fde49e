// internal/device/commands.go
package device

import "fmt"

// Actuator command vocabulary. Every command is a single newline
// terminated ASCII line; every response is a single line back.
const (
	CmdStatus     = "STATUS"
	CmdCoinStatus = "COIN_STATUS"
	CmdRelayOn    = "RELAY_ON"
	CmdRelayOff   = "RELAY_OFF"
)

// Pulse builds a PULSE command for slots 1..64
func Pulse(slot, durationMs int) string {
	return fmt.Sprintf("PULSE %d %d", slot, durationMs)
}

// Open builds an OPEN command holding a slot relay closed
func Open(slot int) string {
	return fmt.Sprintf("OPEN %d", slot)
}

// Close builds a CLOSE command releasing a slot relay
func Close(slot int) string {
	return fmt.Sprintf("CLOSE %d", slot)
}

// DispenseDenom builds a hopper command for one denomination tranche
func DispenseDenom(denom, count, timeoutMs int) string {
	return fmt.Sprintf("DISPENSE_DENOM %d %d %d", denom, count, timeoutMs)
}

// DispenseAmount builds a hopper command for a raw amount
func DispenseAmount(amount, timeoutMs int) string {
	return fmt.Sprintf("DISPENSE_AMOUNT %d %d", amount, timeoutMs)
}

// CoinOpen builds the command opening one hopper coin path
func CoinOpen(denom int) string {
	return fmt.Sprintf("COIN_OPEN %d", denom)
}

// CoinClose builds the command closing one hopper coin path
func CoinClose(denom int) string {
	return fmt.Sprintf("COIN_CLOSE %d", denom)
}
