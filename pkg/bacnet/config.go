package bacnet

import (
	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/pkg/model"
)

func objectTypeFromString(s string) ObjectType {
	switch s {
	case "analog_output":
		return ObjectAnalogOutput
	case "analog_value":
		return ObjectAnalogValue
	case "binary_input":
		return ObjectBinaryInput
	case "binary_output":
		return ObjectBinaryOutput
	case "binary_value":
		return ObjectBinaryValue
	case "multi_state_input":
		return ObjectMultiStateInput
	case "multi_state_output":
		return ObjectMultiStateOutput
	case "multi_state_value":
		return ObjectMultiStateValue
	default:
		return ObjectAnalogInput
	}
}

// BindPoints translates a device's YAML BACnet point config into the
// Binding list NewWorker requires, the same config-to-deployment seam
// pkg/modbus's BindPoints occupies.
func BindPoints(dev config.DeviceConfig) []Binding {
	bindings := make([]Binding, 0, len(dev.BACnetPoints))
	for _, pc := range dev.BACnetPoints {
		bindings = append(bindings, Binding{
			PointID:  pc.PointID,
			TenantID: dev.TenantID,
			Object:   ObjectID{Type: objectTypeFromString(pc.ObjectType), Instance: pc.Instance},
			DataType: model.ScalarType(pc.DataType),
			Scaling:  model.Scaling{Factor: pc.Factor, Offset: pc.ScaleOffset},
			COV:      pc.COV,
		})
	}
	return bindings
}
