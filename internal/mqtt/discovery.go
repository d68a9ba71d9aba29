package mqtt

import "encoding/json"

type discoveryMsg struct {
	Topic   string
	Payload []byte
}

type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	DeviceClass       string   `json:"device_class"`
	UnitOfMeasurement string   `json:"unit_of_measurement"`
	StateClass        string   `json:"state_class"`
	ValueTemplate     string   `json:"value_template"`
	Device            haDevice `json:"device"`
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// buildDiscovery returns the Home Assistant sensor config for the illuminance state topic.
func buildDiscovery(prefix, clientID string) discoveryMsg {
	payload, _ := json.Marshal(haDiscovery{
		Name:              "Illuminance",
		UniqueID:          clientID + "_illuminance",
		StateTopic:        prefix + "/illuminance",
		AvailabilityTopic: prefix + "/bridge/state",
		DeviceClass:       "illuminance",
		UnitOfMeasurement: "lx",
		StateClass:        "measurement",
		ValueTemplate:     "{{ value_json.illuminance }}",
		Device: haDevice{
			Identifiers:  []string{clientID},
			Name:         "Lux Meter",
			Manufacturer: "Vishay",
			Model:        "VEML7700",
		},
	})
	return discoveryMsg{
		Topic:   "homeassistant/sensor/" + clientID + "/illuminance/config",
		Payload: payload,
	}
}
