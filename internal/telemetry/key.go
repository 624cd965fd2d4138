package telemetry

import (
	"fmt"
	"strings"
)

// Key identifies a telemetry stream. It is comparable and can be used
// directly as a map key.
type Key struct {
	EquipmentID string
	SensorType  string
}

// NewKey builds a Key.
func NewKey(equipmentID, sensorType string) Key {
	return Key{EquipmentID: equipmentID, SensorType: sensorType}
}

// String renders the key as "equipment/sensor".
func (k Key) String() string {
	return k.EquipmentID + "/" + k.SensorType
}

// IsZero returns true if neither field is set.
func (k Key) IsZero() bool {
	return k.EquipmentID == "" && k.SensorType == ""
}

// ParseKey parses "equipment/sensor". The sensor part may itself not contain
// a slash; the equipment id is everything before the last slash.
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return Key{}, fmt.Errorf("invalid key %q: expected equipment/sensor", s)
	}
	return Key{EquipmentID: s[:i], SensorType: s[i+1:]}, nil
}
