package types

import "fmt"

// SensorType is the short code the device uses for a measured quantity.
type SensorType string

const (
	Temperature SensorType = "T"
	Humidity    SensorType = "R"
	Pressure    SensorType = "P"
	CO2         SensorType = "CO2"
)

// AllSensorTypes in the default upload order.
var AllSensorTypes = []SensorType{Temperature, Humidity, Pressure, CO2}

// Names used by the remote backend for each code.
var remoteNames = map[SensorType]string{
	Temperature: "temperature",
	Humidity:    "humidity",
	Pressure:    "air_pressure",
	CO2:         "co2",
}

func (t SensorType) IsKnown() bool {
	_, ok := remoteNames[t]
	return ok
}

// RemoteName returns the data_type name the backend expects.
func (t SensorType) RemoteName() string {
	if name, ok := remoteNames[t]; ok {
		return name
	}
	return string(t)
}

func (t SensorType) String() string {
	return string(t)
}

// ParseSensorType validates a sensor code.
func ParseSensorType(s string) (SensorType, error) {
	t := SensorType(s)
	if !t.IsKnown() {
		return "", fmt.Errorf("unknown sensor type %q", s)
	}
	return t, nil
}
