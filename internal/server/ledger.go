package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Nexo-Options/nexo-hardcore-beta/internal/access"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/event"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/fault"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/ingestion"
	"github.com/Nexo-Options/nexo-hardcore-beta/internal/query"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "nexoledger.v1.Ledger"

// ============================================================================
// Messages
// ============================================================================

type SubmitRequest struct {
	Kind string `json:"kind"`
	// Command is the wire JSON the NATS intake accepts.
	Command json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence  int64         `json:"sequence"`
	Duplicate bool          `json:"duplicate"`
	Outcome   event.Outcome `json:"outcome"`
}

type GetTreasuryRequest struct{}

type GetLockRequest struct {
	LockID uint64 `json:"lock_id"`
}

type GetPositionRequest struct {
	Address string `json:"address"`
}

type ListLocksRequest struct {
	Holder string `json:"holder"`
}

type ListLocksResponse struct {
	Locks []query.LockResponse `json:"locks"`
}

// LedgerServer is the server API for the Ledger service.
type LedgerServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetTreasury(context.Context, *GetTreasuryRequest) (*query.TreasuryResponse, error)
	GetLock(context.Context, *GetLockRequest) (*query.LockResponse, error)
	GetPosition(context.Context, *GetPositionRequest) (*query.PositionResponse, error)
	ListLocks(context.Context, *ListLocksRequest) (*ListLocksResponse, error)
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func unary[Req any](method string, call func(LedgerServer, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", func(s LedgerServer, ctx context.Context, r *SubmitRequest) (any, error) { return s.Submit(ctx, r) }),
		unary("GetTreasury", func(s LedgerServer, ctx context.Context, r *GetTreasuryRequest) (any, error) { return s.GetTreasury(ctx, r) }),
		unary("GetLock", func(s LedgerServer, ctx context.Context, r *GetLockRequest) (any, error) { return s.GetLock(ctx, r) }),
		unary("GetPosition", func(s LedgerServer, ctx context.Context, r *GetPositionRequest) (any, error) { return s.GetPosition(ctx, r) }),
		unary("ListLocks", func(s LedgerServer, ctx context.Context, r *ListLocksRequest) (any, error) { return s.ListLocks(ctx, r) }),
	},
	Metadata: "nexoledger/v1/ledger.json",
}

// ============================================================================
// Implementation
// ============================================================================

type ledgerService struct {
	intake *ingestion.Intake
	qs     *query.QueryService
	now    func() time.Time
}

// NewLedgerService serves submissions through intake and reads through qs.
func NewLedgerService(intake *ingestion.Intake, qs *query.QueryService) LedgerServer {
	return &ledgerService{intake: intake, qs: qs, now: time.Now}
}

func (s *ledgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	kind := event.ParseKind(req.Kind)
	if kind == event.KindUnknown {
		return nil, status.Errorf(codes.InvalidArgument, "unknown command kind %q", req.Kind)
	}
	body := []byte(req.Command)
	if len(body) == 0 {
		body = []byte("{}")
	}

	// Commands without a key get a fresh one: a retried request without a
	// key is a new command.
	stamp := ingestion.Stamp{Key: "api:" + uuid.NewString(), Now: s.now().UTC()}
	res, _, err := s.intake.Handle(kind, body, stamp)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{Sequence: res.Sequence, Duplicate: res.Duplicate, Outcome: res.Outcome}, nil
}

func (s *ledgerService) GetTreasury(ctx context.Context, _ *GetTreasuryRequest) (*query.TreasuryResponse, error) {
	tr := s.qs.GetTreasury(ctx)
	return &tr, nil
}

func (s *ledgerService) GetLock(ctx context.Context, req *GetLockRequest) (*query.LockResponse, error) {
	l, err := s.qs.GetLock(ctx, req.LockID)
	if err != nil {
		return nil, toStatus(err)
	}
	return l, nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *GetPositionRequest) (*query.PositionResponse, error) {
	addr := access.NormalizeAddress(req.Address)
	if addr.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "address is required")
	}
	p, err := s.qs.GetPosition(ctx, addr)
	if err != nil {
		return nil, toStatus(err)
	}
	return p, nil
}

func (s *ledgerService) ListLocks(ctx context.Context, req *ListLocksRequest) (*ListLocksResponse, error) {
	locks := s.qs.ListLocks(ctx, access.NormalizeAddress(req.Holder))
	if locks == nil {
		locks = []query.LockResponse{}
	}
	return &ListLocksResponse{Locks: locks}, nil
}

// toStatus maps domain and query errors onto gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ingestion.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, query.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	}

	var fe *fault.Error
	if !errors.As(err, &fe) {
		return status.Error(codes.Internal, err.Error())
	}
	switch fe.Kind {
	case fault.KindAuthorization:
		return status.Error(codes.PermissionDenied, err.Error())
	case fault.KindInsufficientFunds:
		return status.Error(codes.ResourceExhausted, err.Error())
	case fault.KindInvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case fault.KindInvalidState, fault.KindTemporalViolation, fault.KindPolicyViolation, fault.KindZeroEffect:
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Unknown, err.Error())
}
