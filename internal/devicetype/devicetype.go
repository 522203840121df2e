// Package devicetype defines the closed set of mesh device capability
// tags used in canonical names, resource catalogs, and pair admission
// rules.
package devicetype

import (
	"errors"
	"fmt"
)

// Type identifies the capability a mesh node exposes. The set is closed:
// every wire representation (a canonical name's second field, a URI
// catalog record's functionType byte, an admission rule entry) encodes
// one of these values, plus the two reserved sentinels Rule/RuleSet
// resolve internally (see RuleSet in rule.go).
type Type uint8

// The closed device-type set. Values are stable across the wire: do not
// renumber once assigned.
const (
	None Type = iota
	ControlPanel
	Switch
	Lighting
	LightingOnOff
	LightingDimm
	LightingRGB
	Thermostat
	ThermostatSetTemp
	ThermostatReadSetTemp
	ThermostatReadCurrentTemp
	Sensor
	DoorLock
	MotionDetector
	RemoteControl
	EnergyMeter
	SmartPlug
	EnvironmentSensor
	DoorSensor
	Alarm
	// End terminates a serialized rule list and is never a real device's
	// type on the wire (it doubles as "no more rules" per spec).
	End
)

var names = [...]string{
	"NONE", "CONTROL_PANEL", "SWITCH", "LIGHTING", "LIGHTING_ON_OFF",
	"LIGHTING_DIMM", "LIGHTING_RGB", "THERMOSTAT", "THERMOSTAT_SET_TEMP",
	"THERMOSTAT_READ_SET_TEMP", "THERMOSTAT_READ_CURRENT_TEMP", "SENSOR",
	"DOOR_LOCK", "MOTION_DETECTOR", "REMOTE_CONTROL", "ENERGY_METER",
	"SMART_PLUG", "ENVIRONMENT_SENSOR", "DOOR_SENSOR", "ALARM", "END",
}

// String returns the canonical wire name of t, or "UNKNOWN(n)" for a
// value outside the closed set.
func (t Type) String() string {
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Valid reports whether t is a member of the closed device-type set,
// excluding the End sentinel (which is a list terminator, not a type a
// device can claim as its own).
func (t Type) Valid() bool {
	return t < End
}

// ParseType resolves a wire-format integer into a Type. It accepts End
// (callers that need to detect a rule-list terminator do so explicitly
// via End rather than through ParseType).
func ParseType(raw uint8) (Type, error) {
	if raw > uint8(End) {
		return None, fmt.Errorf("devicetype: %w: %d", ErrUnknownType, raw)
	}
	return Type(raw), nil
}

// ErrUnknownType is returned when a wire value falls outside the closed
// device-type set.
var ErrUnknownType = errors.New("value outside the closed device-type set")

// ParseName resolves a wire name ("LIGHTING_ON_OFF") into a Type. Used
// by the config loader, which takes the same names the canonical set
// defines rather than raw integers.
func ParseName(name string) (Type, error) {
	for i, n := range names {
		if n == name {
			return Type(i), nil
		}
	}
	return None, fmt.Errorf("devicetype: %w: %q", ErrUnknownType, name)
}
