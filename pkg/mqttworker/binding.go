// Package mqttworker implements the MQTT worker (§4.6): topic subscriptions
// bound to data points through a json_path, plus an optional production
// mode (priority publish queue, circuit breaker, offline buffer, dedup
// filter, broker failover) for deployments that also publish commands.
package mqttworker

import (
	"time"

	"github.com/cuemby/telemetry-collector/internal/config"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/tidwall/gjson"
)

// PointBinding maps one subscription's extracted value onto a collector
// point, applying its own scaling/type coercion.
type PointBinding struct {
	PointID  string
	TenantID string
	DataType model.ScalarType
	Scaling  model.Scaling
}

// Subscription binds one topic pattern to a json_path extraction fanned
// out to every bound point (§4.6: "(topic pattern, qos, json_path,
// data_points[])").
type Subscription struct {
	Topic    string
	QoS      byte
	JSONPath string // dotted gjson path; empty selects the message root
	Points   []PointBinding

	// statistics, updated by the message loop.
	MessagesReceived uint64
	DecodeErrors     uint64
}

// Extract pulls this subscription's bound value out of a raw JSON payload.
func (s *Subscription) Extract(payload []byte) (any, error) {
	if s.JSONPath == "" {
		var raw any
		result := gjson.ParseBytes(payload)
		raw = result.Value()
		return raw, nil
	}
	result := gjson.GetBytes(payload, s.JSONPath)
	if !result.Exists() {
		return nil, errMissingPath
	}
	return result.Value(), nil
}

// BuildSubscriptions translates a device's YAML MQTT subscription config
// into the []*Subscription shape New requires.
func BuildSubscriptions(dev config.DeviceConfig) []*Subscription {
	subs := make([]*Subscription, 0, len(dev.MQTTSubscriptions))
	for _, sc := range dev.MQTTSubscriptions {
		points := make([]PointBinding, 0, len(sc.Points))
		for _, pc := range sc.Points {
			points = append(points, PointBinding{
				PointID:  pc.PointID,
				TenantID: dev.TenantID,
				DataType: model.ScalarType(pc.DataType),
				Scaling:  model.Scaling{Factor: pc.Factor, Offset: pc.ScaleOffset},
			})
		}
		qos := sc.QoS
		subs = append(subs, &Subscription{
			Topic:    sc.Topic,
			QoS:      qos,
			JSONPath: sc.JSONPath,
			Points:   points,
		})
	}
	return subs
}

// BuildProductionConfig translates a device's YAML production config into
// the ProductionConfig New requires.
func BuildProductionConfig(dev config.DeviceConfig) ProductionConfig {
	p := dev.MQTTProduction
	return ProductionConfig{
		Enabled:                 p.Enabled,
		PublishQueueCapacity:    p.PublishQueueCapacity,
		OfflineBufferCapacity:   p.OfflineBufferCapacity,
		BreakerFailureThreshold: p.BreakerFailureThreshold,
		BreakerCooldown:         time.Duration(p.BreakerCooldownMS) * time.Millisecond,
		DedupCapacity:           p.DedupCapacity,
		BackupBrokerURLs:        p.BackupBrokerURLs,
	}
}
