//go:build grpcserver

package grpcserver

import (
	"context"
	"strconv"

	adminv1 "pharmacyDispatch/api/admin/v1"
	dispatchv1 "pharmacyDispatch/api/dispatch/v1"
	"pharmacyDispatch/internal/auth"
	"pharmacyDispatch/models"
	"pharmacyDispatch/repository"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdminServer implements the operational AdminService. Every method
// double-checks the admin role against the database, not just the token.
type AdminServer struct {
	adminv1.UnimplementedAdminServiceServer
	Deps
}

// ListBroadcasts returns broadcasts matching the filters, newest first.
func (s *AdminServer) ListBroadcasts(ctx context.Context, req *adminv1.ListBroadcastsRequest) (*adminv1.ListBroadcastsResponse, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}

	params := repository.ListBroadcastsAdminParams{PageSize: int(req.GetPageSize())}
	for _, st := range req.GetStatuses() {
		switch st {
		case dispatchv1.BroadcastStatus_BROADCAST_STATUS_PENDING:
			params.Statuses = append(params.Statuses, models.BroadcastStatusPending)
		case dispatchv1.BroadcastStatus_BROADCAST_STATUS_ACCEPTED:
			params.Statuses = append(params.Statuses, models.BroadcastStatusAccepted)
		case dispatchv1.BroadcastStatus_BROADCAST_STATUS_FAILED:
			params.Statuses = append(params.Statuses, models.BroadcastStatusFailed)
		case dispatchv1.BroadcastStatus_BROADCAST_STATUS_CANCELLED:
			params.Statuses = append(params.Statuses, models.BroadcastStatusCancelled)
		}
	}
	if req.GetKind() != dispatchv1.BroadcastKind_BROADCAST_KIND_UNSPECIFIED {
		kind, err := kindFromProto(req.GetKind())
		if err != nil {
			return nil, err
		}
		params.Kind = &kind
	}
	if req.GetOrderId() > 0 {
		id := req.GetOrderId()
		params.OrderID = &id
	}
	if tok := req.GetPageToken(); tok != "" {
		after, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
		params.AfterID = after
	}

	list, err := s.Broadcasts.ListAdmin(ctx, params)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list broadcasts: %v", err)
	}
	out := make([]*dispatchv1.Broadcast, 0, len(list))
	for i := range list {
		out = append(out, toProtoBroadcast(&list[i]))
	}
	next := ""
	if len(list) > 0 && len(list) == maxOrDefault(int(req.GetPageSize())) {
		next = strconv.FormatInt(list[len(list)-1].ID, 10)
	}
	return &adminv1.ListBroadcastsResponse{Broadcasts: out, NextPageToken: next}, nil
}

// ListOrders returns orders matching the filters with keyset pagination.
func (s *AdminServer) ListOrders(ctx context.Context, req *adminv1.ListOrdersRequest) (*adminv1.ListOrdersResponse, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}

	params := repository.ListOrdersAdminParams{PageSize: int(req.GetPageSize())}
	for _, st := range req.GetStatuses() {
		params.Statuses = append(params.Statuses, models.OrderStatus(st))
	}
	if req.GetSubmittedBy() > 0 {
		id := req.GetSubmittedBy()
		params.SubmittedBy = &id
	}
	if tok := req.GetPageToken(); tok != "" {
		if err := decodeCursor(tok, &params.AfterSeconds, &params.AfterID); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
	}

	list, err := s.Orders.ListAdmin(ctx, params)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list orders: %v", err)
	}
	out := make([]*dispatchv1.Order, 0, len(list))
	for i := range list {
		out = append(out, toProtoOrder(&list[i]))
	}
	next := ""
	if len(list) > 0 && len(list) == maxOrDefault(int(req.GetPageSize())) {
		last := list[len(list)-1]
		if sec, err := placementToUnixSeconds(last.PlacementAt); err == nil {
			next = encodeCursor(sec, last.ID)
		}
	}
	return &adminv1.ListOrdersResponse{Orders: out, NextPageToken: next}, nil
}

// ListProviders returns providers matching the filters ordered by id.
func (s *AdminServer) ListProviders(ctx context.Context, req *adminv1.ListProvidersRequest) (*adminv1.ListProvidersResponse, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}

	params := repository.ListProvidersAdminParams{
		AvailableOnly: req.GetAvailableOnly(),
		VerifiedOnly:  req.GetVerifiedOnly(),
		PageSize:      int(req.GetPageSize()),
	}
	if k := req.GetKind(); k != "" {
		kind := models.ProviderKind(k)
		params.Kind = &kind
	}
	if tok := req.GetPageToken(); tok != "" {
		after, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
		params.AfterID = after
	}

	list, err := s.Providers.ListAdmin(ctx, params)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list providers: %v", err)
	}
	out := make([]*adminv1.Provider, 0, len(list))
	for _, p := range list {
		pp := &adminv1.Provider{
			Id:        p.ID,
			Name:      p.Name,
			Kind:      string(p.Kind),
			Available: p.Available,
			Verified:  p.Verified,
		}
		if p.Lat != nil {
			pp.Lat = *p.Lat
		}
		if p.Lng != nil {
			pp.Lng = *p.Lng
		}
		if p.LocationAt != nil {
			pp.LocationAt = *p.LocationAt
		}
		out = append(out, pp)
	}
	next := ""
	if len(list) > 0 && len(list) == maxOrDefault(int(req.GetPageSize())) {
		next = strconv.FormatInt(list[len(list)-1].ID, 10)
	}
	return &adminv1.ListProvidersResponse{Providers: out, NextPageToken: next}, nil
}

// SetProviderVerified flips a provider's verification flag. Unverified
// providers never receive offers.
func (s *AdminServer) SetProviderVerified(ctx context.Context, req *adminv1.SetProviderVerifiedRequest) (*adminv1.SetProviderVerifiedResponse, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}
	p, err := s.Providers.GetByID(ctx, req.GetProviderId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get provider: %v", err)
	}
	if p == nil {
		return nil, status.Error(codes.NotFound, "provider not found")
	}
	if err := s.Providers.SetVerified(ctx, p.ID, req.GetVerified()); err != nil {
		return nil, status.Errorf(codes.Internal, "set verified: %v", err)
	}
	return &adminv1.SetProviderVerifiedResponse{}, nil
}

// RunSweep triggers one pass of the background maintenance loops.
func (s *AdminServer) RunSweep(ctx context.Context, req *adminv1.RunSweepRequest) (*adminv1.RunSweepResponse, error) {
	if _, err := auth.RequireAdmin(ctx, s.Users); err != nil {
		return nil, err
	}

	escalated, err := s.Engine.EscalateDue(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "escalate: %v", err)
	}
	failed, err := s.Engine.FailOverdue(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "fail overdue: %v", err)
	}
	rebroadcast, err := s.Engine.Sweep(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "sweep: %v", err)
	}
	return &adminv1.RunSweepResponse{
		Escalated:   int32(escalated),
		Failed:      int32(failed),
		Rebroadcast: int32(rebroadcast),
	}, nil
}

// maxOrDefault normalizes a requested page size the same way the
// repositories do, so full-page detection matches what they returned.
func maxOrDefault(pageSize int) int {
	if pageSize <= 0 {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}
