// Package controlapi exposes the Worker Manager and Alarm Engine as an
// operator-facing gRPC control surface (§6): worker start/stop/pause/
// resume/restart, point writes, and alarm acknowledge/clear/suppress.
package controlapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/cuemby/telemetry-collector/internal/errs"
	"github.com/cuemby/telemetry-collector/internal/telemetry/log"
	"github.com/cuemby/telemetry-collector/pkg/alarm"
	"github.com/cuemby/telemetry-collector/pkg/model"
	"github.com/cuemby/telemetry-collector/pkg/workermanager"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// Server implements ControlAPIServer over a *workermanager.Manager and
// *alarm.Engine, grounded on the teacher's api.Server wrapping a single
// *manager.Manager.
type Server struct {
	workers *workermanager.Manager
	alarms  *alarm.Engine
	store   alarm.Store

	// TLSConfig, if set before Start, requires mutual TLS on the control
	// listener instead of a plaintext local-network connection. Built from
	// a pkg/security.CertAuthority server certificate by the caller.
	TLSConfig *tls.Config

	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewServer builds a Server. store may be nil, in which case
// ListActiveAlarms always returns an empty list (no durable store wired).
func NewServer(workers *workermanager.Manager, alarms *alarm.Engine, store alarm.Store) *Server {
	return &Server{
		workers: workers,
		alarms:  alarms,
		store:   store,
		logger:  log.WithComponent("controlapi"),
	}
}

// Start listens on addr and serves until Stop is called, grounded on the
// teacher's health.HealthServer.Start blocking-listener shape, adapted
// to grpc.Server.Serve instead of http.Server.ListenAndServe.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("controlapi: listen %s: %w", addr, err)
	}

	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(loggingInterceptor(s.logger)),
	}
	if s.TLSConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(s.TLSConfig)))
	}

	s.grpc = grpc.NewServer(opts...)
	s.grpc.RegisterService(&ServiceDesc, ControlAPIServer(s))

	s.logger.Info().Str("addr", addr).Bool("tls", s.TLSConfig != nil).Msg("controlapi: listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully drains in-flight RPCs before shutting down.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func (s *Server) ListWorkers(ctx context.Context, _ *ListWorkersRequest) (*ListWorkersResponse, error) {
	statuses := s.workers.List()
	out := make([]WorkerStatus, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, WorkerStatus{DeviceID: st.DeviceID, Protocol: st.Protocol, State: string(st.State)})
	}
	return &ListWorkersResponse{Workers: out}, nil
}

func (s *Server) StartWorker(ctx context.Context, req *DeviceRequest) (*DeviceResponse, error) {
	return deviceResponse(s.workers.Start(ctx, req.DeviceID))
}

func (s *Server) StopWorker(ctx context.Context, req *DeviceRequest) (*DeviceResponse, error) {
	return deviceResponse(s.workers.Stop(req.DeviceID))
}

func (s *Server) PauseWorker(ctx context.Context, req *DeviceRequest) (*DeviceResponse, error) {
	return deviceResponse(s.workers.Pause(req.DeviceID))
}

func (s *Server) ResumeWorker(ctx context.Context, req *DeviceRequest) (*DeviceResponse, error) {
	return deviceResponse(s.workers.Resume(req.DeviceID))
}

func (s *Server) RestartWorker(ctx context.Context, req *DeviceRequest) (*DeviceResponse, error) {
	return deviceResponse(s.workers.Restart(ctx, req.DeviceID))
}

func deviceResponse(err error) (*DeviceResponse, error) {
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &DeviceResponse{OK: true}, nil
}

func (s *Server) WritePoint(ctx context.Context, req *WritePointRequest) (*WritePointResponse, error) {
	if err := s.workers.WritePoint(ctx, req.DeviceID, req.PointID, model.DoubleValue(req.Value)); err != nil {
		return nil, toGRPCError(err)
	}
	return &WritePointResponse{OK: true}, nil
}

func (s *Server) AcknowledgeAlarm(ctx context.Context, req *AlarmActionRequest) (*AlarmActionResponse, error) {
	if err := s.alarms.Acknowledge(req.RuleID, req.TargetID, req.Operator, req.Comment); err != nil {
		return nil, toGRPCError(err)
	}
	return &AlarmActionResponse{OK: true}, nil
}

func (s *Server) ClearAlarm(ctx context.Context, req *AlarmActionRequest) (*AlarmActionResponse, error) {
	if err := s.alarms.Clear(req.RuleID, req.TargetID, req.Comment); err != nil {
		return nil, toGRPCError(err)
	}
	return &AlarmActionResponse{OK: true}, nil
}

func (s *Server) SuppressAlarm(ctx context.Context, req *AlarmActionRequest) (*AlarmActionResponse, error) {
	if err := s.alarms.Suppress(req.RuleID, req.TargetID); err != nil {
		return nil, toGRPCError(err)
	}
	return &AlarmActionResponse{OK: true}, nil
}

func (s *Server) ListActiveAlarms(ctx context.Context, req *ListActiveAlarmsRequest) (*ListActiveAlarmsResponse, error) {
	if s.store == nil {
		return &ListActiveAlarmsResponse{}, nil
	}
	occs, err := s.store.LoadActiveOccurrences(req.TenantID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &ListActiveAlarmsResponse{Occurrences: occs}, nil
}

// toGRPCError maps the collector's error taxonomy onto gRPC status codes
// (§7, §6's exit-code table) so CLI/API callers get a stable, typed
// failure rather than an opaque Internal.
func toGRPCError(err error) error {
	switch {
	case errors.Is(err, errs.ErrUnknownDevice):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errs.ErrNotConnected):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errs.ErrUnauthorisedWrite):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, errs.ErrMissingTarget):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
