package controlapi

import "github.com/cuemby/telemetry-collector/pkg/model"

// Every request/response pair below is a plain, JSON-tagged Go struct
// rather than a protoc-generated message: the control surface is served
// over gRPC (codec.go registers a JSON encoding.Codec) without requiring
// the protobuf compiler to be run, so a .proto-less deployment can still
// regenerate this package from source.

type ListWorkersRequest struct{}

type WorkerStatus struct {
	DeviceID string `json:"device_id"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
}

type ListWorkersResponse struct {
	Workers []WorkerStatus `json:"workers"`
}

type DeviceRequest struct {
	DeviceID string `json:"device_id"`
}

type DeviceResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type WritePointRequest struct {
	DeviceID string  `json:"device_id"`
	PointID  string  `json:"point_id"`
	Value    float64 `json:"value"`
}

type WritePointResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type AlarmActionRequest struct {
	RuleID   string `json:"rule_id"`
	TargetID string `json:"target_id"`
	Operator string `json:"operator"`
	Comment  string `json:"comment,omitempty"`
}

type AlarmActionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ListActiveAlarmsRequest struct {
	TenantID string `json:"tenant_id"`
}

type ListActiveAlarmsResponse struct {
	Occurrences []model.AlarmOccurrence `json:"occurrences"`
}
