//go:build grpcserver

package grpcserver

import (
	"context"
	"errors"
	"time"

	providerv1 "pharmacyDispatch/api/provider/v1"
	"pharmacyDispatch/internal/auth"
	"pharmacyDispatch/internal/dispatch"
	"pharmacyDispatch/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ProviderServer implements the candidate-facing ProviderService. The
// authenticated principal's name is the provider's registered name.
type ProviderServer struct {
	providerv1.UnimplementedProviderServiceServer
	Deps
}

func (s *ProviderServer) resolveCurrentProvider(ctx context.Context, p *auth.Principal) (*models.Provider, error) {
	prov, err := s.Providers.GetByName(ctx, p.Name)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get provider: %v", err)
	}
	if prov == nil {
		return nil, status.Error(codes.NotFound, "provider not found")
	}
	return prov, nil
}

// Heartbeat records the provider's current position. Selection ignores
// positions older than two minutes, so providers report continuously.
func (s *ProviderServer) Heartbeat(ctx context.Context, req *providerv1.HeartbeatRequest) (*providerv1.HeartbeatResponse, error) {
	p, err := auth.RequireProvider(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := s.resolveCurrentProvider(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.Providers.Heartbeat(ctx, prov.ID, req.GetLat(), req.GetLng(), time.Now().Unix()); err != nil {
		return nil, status.Errorf(codes.Internal, "heartbeat: %v", err)
	}
	return &providerv1.HeartbeatResponse{}, nil
}

// SetAvailability toggles whether the provider receives offers.
func (s *ProviderServer) SetAvailability(ctx context.Context, req *providerv1.SetAvailabilityRequest) (*providerv1.SetAvailabilityResponse, error) {
	p, err := auth.RequireProvider(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := s.resolveCurrentProvider(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.Providers.SetAvailable(ctx, prov.ID, req.GetAvailable()); err != nil {
		return nil, status.Errorf(codes.Internal, "set availability: %v", err)
	}
	return &providerv1.SetAvailabilityResponse{}, nil
}

// ListOpenOffers is the poll path for offers whose push was missed. Each
// offer is joined with its broadcast so the provider sees the destination
// and kind before deciding.
func (s *ProviderServer) ListOpenOffers(ctx context.Context, req *providerv1.ListOpenOffersRequest) (*providerv1.ListOpenOffersResponse, error) {
	p, err := auth.RequireProvider(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := s.resolveCurrentProvider(ctx, p)
	if err != nil {
		return nil, err
	}

	offers, err := s.Notifications.ListOpenOffersForProvider(ctx, prov.ID, time.Now().Unix())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list offers: %v", err)
	}

	out := make([]*providerv1.Offer, 0, len(offers))
	for _, off := range offers {
		b, err := s.Broadcasts.GetByID(ctx, off.BroadcastID)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get broadcast: %v", err)
		}
		if b == nil || b.Status.Terminal() {
			continue
		}
		out = append(out, &providerv1.Offer{
			BroadcastId: off.BroadcastID,
			OrderId:     b.OrderID,
			Kind:        string(b.Kind),
			Token:       off.Token,
			IssuedAt:    off.IssuedAt,
			ExpiresAt:   off.ExpiresAt,
			DestLat:     b.OriginLat,
			DestLng:     b.OriginLng,
		})
	}
	return &providerv1.ListOpenOffersResponse{Offers: out}, nil
}

// RespondToOffer submits the provider's decision to arbitration. Losing a
// race does not produce an RPC error; success=false with a reason does.
func (s *ProviderServer) RespondToOffer(ctx context.Context, req *providerv1.RespondToOfferRequest) (*providerv1.RespondToOfferResponse, error) {
	p, err := auth.RequireProvider(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := s.resolveCurrentProvider(ctx, p)
	if err != nil {
		return nil, err
	}

	var decision models.OfferResponse
	switch req.GetDecision() {
	case providerv1.OfferDecision_OFFER_DECISION_ACCEPT:
		decision = models.OfferResponseAccept
	case providerv1.OfferDecision_OFFER_DECISION_REJECT:
		decision = models.OfferResponseReject
	default:
		return nil, status.Error(codes.InvalidArgument, "decision is required")
	}
	var reason *string
	if r := req.GetReason(); r != "" {
		reason = &r
	}

	res, err := s.Arbiter.Respond(ctx, req.GetBroadcastId(), prov.ID, decision, reason)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNotFound):
			return nil, status.Error(codes.NotFound, "broadcast not found")
		case errors.Is(err, dispatch.ErrNotNotified):
			return nil, status.Error(codes.PermissionDenied, "no offer for this broadcast")
		case errors.Is(err, dispatch.ErrResourceCreation):
			return nil, status.Errorf(codes.Internal, "assignment: %v", err)
		default:
			return nil, status.Errorf(codes.Internal, "respond: %v", err)
		}
	}

	out := &providerv1.RespondToOfferResponse{Success: res.Success, Reason: res.Reason}
	if res.ResultResourceID != nil {
		out.ResultResourceId = *res.ResultResourceID
	}
	return out, nil
}

// ListMyAssignments returns the provider's won assignments, newest first.
func (s *ProviderServer) ListMyAssignments(ctx context.Context, req *providerv1.ListMyAssignmentsRequest) (*providerv1.ListMyAssignmentsResponse, error) {
	p, err := auth.RequireProvider(ctx)
	if err != nil {
		return nil, err
	}
	prov, err := s.resolveCurrentProvider(ctx, p)
	if err != nil {
		return nil, err
	}

	list, err := s.Assignments.ListByProvider(ctx, prov.ID, int(req.GetLimit()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list assignments: %v", err)
	}
	out := make([]*providerv1.Assignment, 0, len(list))
	for _, a := range list {
		out = append(out, &providerv1.Assignment{
			Id:        a.ID,
			OrderId:   a.OrderID,
			Kind:      string(a.Kind),
			CreatedAt: a.CreatedAt,
		})
	}
	return &providerv1.ListMyAssignmentsResponse{Assignments: out}, nil
}
