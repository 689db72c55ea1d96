package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
)

const serviceName = "viralforge.licensing.v1.LicensingInternalService"

type LicensingInternalService interface {
	CheckLicense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTicketPublicKey(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type LicensingInternalServer struct {
	service *application.Service
}

func NewLicensingInternalServer(service *application.Service) *LicensingInternalServer {
	return &LicensingInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc LicensingInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LicensingInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "CheckLicense",
				Handler:    checkLicenseHandler(svc),
			},
			{
				MethodName: "GetTicketPublicKey",
				Handler:    getTicketPublicKeyHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/licensing/v1/licensing_internal.proto",
	}, svc)
}

// CheckLicense expects {token, mac_address, device_name}. A failure that
// carries a signed ticket is returned as {ok: false, code, ticket} so the
// ticket survives the trip; other failures become gRPC status errors.
func (s *LicensingInternalServer) CheckLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	token := fields["token"].GetStringValue()
	if token == "" {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}
	caller, err := s.service.Authenticate(ctx, token)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	ticket, err := s.service.CheckLicense(ctx, caller, application.CheckLicenseInput{
		MACAddress: fields["mac_address"].GetStringValue(),
		DeviceName: fields["device_name"].GetStringValue(),
	})
	if err != nil {
		failure, ok := domain.FailureTicket(err)
		if !ok {
			return nil, toStatus(err).Err()
		}
		code := toStatus(err)
		return buildStruct(map[string]any{
			"ok":     false,
			"code":   code.Code().String(),
			"ticket": ticketMap(failure),
		})
	}
	return buildStruct(map[string]any{
		"ok":     true,
		"ticket": ticketMap(ticket),
	})
}

func (s *LicensingInternalServer) GetTicketPublicKey(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return buildStruct(map[string]any{
		"algorithm":      "SHA256withRSA",
		"public_key_pem": s.service.TicketPublicKeyPEM(),
	})
}

func ticketMap(t domain.Ticket) map[string]any {
	wire := contracts.TicketFromDomain(t)
	return map[string]any{
		"server_date":          wire.ServerDate,
		"ticket_lifetime_days": wire.TicketLifetimeDays,
		"activation_date":      wire.ActivationDate,
		"expiration_date":      wire.ExpirationDate,
		"user_id":              wire.UserID,
		"device_id":            wire.DeviceID,
		"blocked":              wire.Blocked,
		"detail":               wire.Detail,
		"signature":            wire.Signature,
	}
}

func buildStruct(m map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(err error) *status.Status {
	msg := err.Error()
	if lerr, ok := domain.AsLicenseError(err); ok && lerr.Message != "" {
		msg = lerr.Message
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.New(codes.InvalidArgument, msg)
	case errors.Is(err, domain.ErrUnauthorized):
		return status.New(codes.Unauthenticated, "invalid or missing credentials")
	case errors.Is(err, domain.ErrForbidden):
		return status.New(codes.PermissionDenied, msg)
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidCredential):
		return status.New(codes.NotFound, msg)
	case errors.Is(err, domain.ErrSlotsExhausted):
		return status.New(codes.ResourceExhausted, msg)
	case errors.Is(err, domain.ErrAlreadyBound), errors.Is(err, domain.ErrConflict):
		return status.New(codes.AlreadyExists, msg)
	case errors.Is(err, domain.ErrInvalidState):
		return status.New(codes.FailedPrecondition, msg)
	case errors.Is(err, domain.ErrRateLimited):
		return status.New(codes.ResourceExhausted, "too many requests")
	default:
		return status.New(codes.Internal, "internal error")
	}
}

func checkLicenseHandler(svc LicensingInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.CheckLicense(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/CheckLicense",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.CheckLicense(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func getTicketPublicKeyHandler(svc LicensingInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &emptypb.Empty{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.GetTicketPublicKey(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/GetTicketPublicKey",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*emptypb.Empty)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.GetTicketPublicKey(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
