package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/Voice-ly/voice.ly-backend/internal/common"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
	"github.com/Voice-ly/voice.ly-backend/internal/middleware"
	"github.com/Voice-ly/voice.ly-backend/internal/service"
)

const ServiceName = "meetings.v1.MeetingService"

// MeetingServiceServer is the method set registered under ServiceName.
type MeetingServiceServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	CreateMeeting(context.Context, *CreateMeetingRequest) (*CreateMeetingResponse, error)
	GetMeeting(context.Context, *MeetingRequest) (*Meeting, error)
	ListMeetings(context.Context, *ListMeetingsRequest) (*ListMeetingsResponse, error)
	JoinMeeting(context.Context, *MeetingRequest) (*JoinMeetingResponse, error)
	UpdateMeeting(context.Context, *UpdateMeetingRequest) (*Empty, error)
	DeleteMeeting(context.Context, *MeetingRequest) (*Empty, error)
	EndMeeting(context.Context, *MeetingRequest) (*Empty, error)
}

func method(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(MeetingServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MeetingServiceServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MeetingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", MeetingServiceServer.Login),
		unary("CreateMeeting", MeetingServiceServer.CreateMeeting),
		unary("GetMeeting", MeetingServiceServer.GetMeeting),
		unary("ListMeetings", MeetingServiceServer.ListMeetings),
		unary("JoinMeeting", MeetingServiceServer.JoinMeeting),
		unary("UpdateMeeting", MeetingServiceServer.UpdateMeeting),
		unary("DeleteMeeting", MeetingServiceServer.DeleteMeeting),
		unary("EndMeeting", MeetingServiceServer.EndMeeting),
	},
	Streams: []grpc.StreamDesc{},
}

// Server implements MeetingServiceServer on top of the services.
type Server struct {
	sessions *service.Sessions
	meetings *service.Meetings
	log      logging.Logger
}

var _ MeetingServiceServer = (*Server)(nil)

func NewServer(sessions *service.Sessions, meetings *service.Meetings, log logging.Logger) *Server {
	return &Server{sessions: sessions, meetings: meetings, log: log}
}

// toStatus maps the service error taxonomy onto gRPC codes.
func (s *Server) toStatus(ctx context.Context, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, common.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrInvalidToken):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrMisconfigured):
		s.log.Error(ctx, "server misconfigured", "err", err)
		code = codes.FailedPrecondition
	default:
		s.log.Error(ctx, "rpc failed", "err", err)
		return status.Error(codes.Internal, common.ErrInternal.Error())
	}
	return status.Error(code, err.Error())
}

func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	sess, err := s.sessions.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &LoginResponse{Token: sess.Token, UserID: sess.UserID, ExpiresAt: timestamppb.New(sess.ExpiresAt)}, nil
}

func (s *Server) CreateMeeting(ctx context.Context, req *CreateMeetingRequest) (*CreateMeetingResponse, error) {
	m, err := s.meetings.Create(ctx, middleware.UserID(ctx), service.CreateMeetingInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &CreateMeetingResponse{ID: m.ID, MeetLink: m.MeetLink}, nil
}

func (s *Server) GetMeeting(ctx context.Context, req *MeetingRequest) (*Meeting, error) {
	m, err := s.meetings.Get(ctx, req.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toMeeting(m), nil
}

func (s *Server) ListMeetings(ctx context.Context, _ *ListMeetingsRequest) (*ListMeetingsResponse, error) {
	ms, err := s.meetings.List(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := &ListMeetingsResponse{Meetings: make([]*Meeting, 0, len(ms))}
	for i := range ms {
		out.Meetings = append(out.Meetings, toMeeting(&ms[i]))
	}
	return out, nil
}

func (s *Server) JoinMeeting(ctx context.Context, req *MeetingRequest) (*JoinMeetingResponse, error) {
	res, err := s.meetings.Join(ctx, req.ID, middleware.UserID(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &JoinMeetingResponse{MeetLink: res.MeetLink, Participants: res.Participants}, nil
}

func (s *Server) UpdateMeeting(ctx context.Context, req *UpdateMeetingRequest) (*Empty, error) {
	err := s.meetings.Update(ctx, req.ID, middleware.UserID(ctx), service.UpdateMeetingInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) DeleteMeeting(ctx context.Context, req *MeetingRequest) (*Empty, error) {
	if err := s.meetings.Delete(ctx, req.ID, middleware.UserID(ctx)); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

func (s *Server) EndMeeting(ctx context.Context, req *MeetingRequest) (*Empty, error) {
	if err := s.meetings.End(ctx, req.ID, middleware.UserID(ctx)); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &Empty{}, nil
}

// Register adds s to gs.
func Register(gs *grpc.Server, s MeetingServiceServer) {
	gs.RegisterService(&serviceDesc, s)
}

const healthCheck = "/grpc.health.v1.Health/Check"

// NewGRPCServer builds a server carrying the meeting service and the
// standard health service. limiter may be nil.
func NewGRPCServer(s *Server, a middleware.Authenticator, limiter middleware.Limiter, log logging.Logger) (*grpc.Server, *health.Server) {
	ics := []grpc.UnaryServerInterceptor{logUnary(log), recoverUnary(log)}
	if limiter != nil {
		ics = append(ics, middleware.RateLimitUnary(limiter, map[string]bool{method("Login"): true}))
	}
	ics = append(ics, middleware.Auth(a, map[string]bool{method("Login"): true, healthCheck: true}))

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(ics...))
	Register(gs, s)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func logUnary(log logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		args := []any{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
		if code == codes.Internal || code == codes.Unknown {
			log.Error(ctx, "rpc", args...)
		} else {
			log.Info(ctx, "rpc", args...)
		}
		return resp, err
	}
}

func recoverUnary(log logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(ctx, "rpc panic", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, common.ErrInternal.Error())
			}
		}()
		return next(ctx, req)
	}
}
