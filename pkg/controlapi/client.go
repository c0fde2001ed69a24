package controlapi

import (
	"context"
	"crypto/tls"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a thin wrapper the CLI uses to call a running collector's
// control surface. It invokes RPCs directly through grpc.ClientConn.Invoke
// rather than a generated stub, mirroring service.go's hand-written
// ServiceDesc on the server side.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a collector's control surface at addr without
// transport security. Use DialTLS when the collector was started with
// control.tls_enabled.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("controlapi: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// DialTLS connects to a collector's control surface at addr presenting
// the given client certificate, for a collector started with
// control.tls_enabled. tlsConfig typically pairs a
// pkg/security.CertAuthority-issued client certificate with a RootCAs
// pool containing that CA's root.
func DialTLS(addr string, tlsConfig *tls.Config) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("controlapi: dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	return c.conn.Invoke(ctx, "/controlapi.ControlAPI/"+method, req, resp)
}

func (c *Client) ListWorkers(ctx context.Context) (*ListWorkersResponse, error) {
	resp := new(ListWorkersResponse)
	return resp, c.invoke(ctx, "ListWorkers", &ListWorkersRequest{}, resp)
}

func (c *Client) StartWorker(ctx context.Context, deviceID string) (*DeviceResponse, error) {
	resp := new(DeviceResponse)
	return resp, c.invoke(ctx, "StartWorker", &DeviceRequest{DeviceID: deviceID}, resp)
}

func (c *Client) StopWorker(ctx context.Context, deviceID string) (*DeviceResponse, error) {
	resp := new(DeviceResponse)
	return resp, c.invoke(ctx, "StopWorker", &DeviceRequest{DeviceID: deviceID}, resp)
}

func (c *Client) PauseWorker(ctx context.Context, deviceID string) (*DeviceResponse, error) {
	resp := new(DeviceResponse)
	return resp, c.invoke(ctx, "PauseWorker", &DeviceRequest{DeviceID: deviceID}, resp)
}

func (c *Client) ResumeWorker(ctx context.Context, deviceID string) (*DeviceResponse, error) {
	resp := new(DeviceResponse)
	return resp, c.invoke(ctx, "ResumeWorker", &DeviceRequest{DeviceID: deviceID}, resp)
}

func (c *Client) RestartWorker(ctx context.Context, deviceID string) (*DeviceResponse, error) {
	resp := new(DeviceResponse)
	return resp, c.invoke(ctx, "RestartWorker", &DeviceRequest{DeviceID: deviceID}, resp)
}

func (c *Client) WritePoint(ctx context.Context, deviceID, pointID string, value float64) (*WritePointResponse, error) {
	resp := new(WritePointResponse)
	return resp, c.invoke(ctx, "WritePoint", &WritePointRequest{DeviceID: deviceID, PointID: pointID, Value: value}, resp)
}

func (c *Client) AcknowledgeAlarm(ctx context.Context, ruleID, targetID, operator, comment string) (*AlarmActionResponse, error) {
	resp := new(AlarmActionResponse)
	return resp, c.invoke(ctx, "AcknowledgeAlarm", &AlarmActionRequest{RuleID: ruleID, TargetID: targetID, Operator: operator, Comment: comment}, resp)
}

func (c *Client) ClearAlarm(ctx context.Context, ruleID, targetID, operator, comment string) (*AlarmActionResponse, error) {
	resp := new(AlarmActionResponse)
	return resp, c.invoke(ctx, "ClearAlarm", &AlarmActionRequest{RuleID: ruleID, TargetID: targetID, Operator: operator, Comment: comment}, resp)
}

func (c *Client) SuppressAlarm(ctx context.Context, ruleID, targetID, operator string) (*AlarmActionResponse, error) {
	resp := new(AlarmActionResponse)
	return resp, c.invoke(ctx, "SuppressAlarm", &AlarmActionRequest{RuleID: ruleID, TargetID: targetID, Operator: operator}, resp)
}

func (c *Client) ListActiveAlarms(ctx context.Context, tenantID string) (*ListActiveAlarmsResponse, error) {
	resp := new(ListActiveAlarmsResponse)
	return resp, c.invoke(ctx, "ListActiveAlarms", &ListActiveAlarmsRequest{TenantID: tenantID}, resp)
}
