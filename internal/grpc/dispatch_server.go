//go:build grpcserver

package grpcserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	dispatchv1 "pharmacyDispatch/api/dispatch/v1"
	"pharmacyDispatch/internal/auth"
	"pharmacyDispatch/internal/dispatch"
	"pharmacyDispatch/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	maxPageSize      = 100 // Maximum allowed page size for list operations.
	defaultPageSize  = 20  // Default page size for list operations.
	cursorSeparator  = "|" // Separator for cursor components.
	sqliteDateFormat = "2006-01-02 15:04:05"
)

// DispatchServer implements the requester-facing DispatchService.
type DispatchServer struct {
	dispatchv1.UnimplementedDispatchServiceServer
	Deps
}

// resolveCurrentUser retrieves the authenticated user from the database.
func (s *DispatchServer) resolveCurrentUser(ctx context.Context, p *auth.Principal) (*models.User, error) {
	u, err := s.Users.GetByUsername(ctx, p.Name)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get user: %v", err)
	}
	if u == nil {
		return nil, status.Error(codes.NotFound, "user not found")
	}
	return u, nil
}

// getOwnedBroadcast loads a broadcast and verifies the caller requested it.
// Admins may read any broadcast.
func (s *DispatchServer) getOwnedBroadcast(ctx context.Context, p *auth.Principal, u *models.User, broadcastID int64) (*models.BroadcastRecord, error) {
	b, err := s.Broadcasts.GetByID(ctx, broadcastID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get broadcast: %v", err)
	}
	if b == nil {
		return nil, status.Error(codes.NotFound, "broadcast not found")
	}
	if b.RequestedBy != u.ID && p.Kind != "admin" {
		return nil, status.Error(codes.PermissionDenied, "cannot access another user's broadcast")
	}
	return b, nil
}

// PlaceOrder creates a new order for the authenticated user. The order waits
// for a vendor until a broadcast finds one.
func (s *DispatchServer) PlaceOrder(ctx context.Context, req *dispatchv1.PlaceOrderRequest) (*dispatchv1.PlaceOrderResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}
	if req.GetItems() == "" {
		return nil, status.Error(codes.InvalidArgument, "items is required")
	}

	ord, err := s.Orders.Create(ctx, &models.Order{
		DestLat:     req.GetDestLat(),
		DestLng:     req.GetDestLng(),
		Items:       req.GetItems(),
		SubmittedBy: u.ID,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "create order: %v", err)
	}
	return &dispatchv1.PlaceOrderResponse{Order: toProtoOrder(ord)}, nil
}

// CreateBroadcast opens a broadcast on an order the caller owns. At most one
// pending broadcast per order and kind may exist at a time, and the order
// must be in the status the broadcast kind expects.
func (s *DispatchServer) CreateBroadcast(ctx context.Context, req *dispatchv1.CreateBroadcastRequest) (*dispatchv1.CreateBroadcastResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}
	kind, err := kindFromProto(req.GetKind())
	if err != nil {
		return nil, err
	}

	ord, err := s.Orders.GetByID(ctx, req.GetOrderId())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get order: %v", err)
	}
	if ord == nil {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	if ord.SubmittedBy != u.ID && p.Kind != "admin" {
		return nil, status.Error(codes.PermissionDenied, "cannot broadcast another user's order")
	}

	wantStatus := models.OrderStatusAwaitingVendor
	if kind == models.BroadcastKindDelivery {
		wantStatus = models.OrderStatusReadyForPickup
	}
	if ord.Status != wantStatus {
		return nil, status.Errorf(codes.FailedPrecondition, "order is %q, want %q", ord.Status, wantStatus)
	}

	existing, err := s.Broadcasts.GetPendingByOrder(ctx, ord.ID, kind)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get pending broadcast: %v", err)
	}
	if existing != nil {
		return nil, status.Errorf(codes.AlreadyExists, "broadcast %d is already pending for this order", existing.ID)
	}

	b, err := s.Engine.Start(ctx, ord, kind)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "start broadcast: %v", err)
	}
	return &dispatchv1.CreateBroadcastResponse{Broadcast: toProtoBroadcast(b)}, nil
}

// GetBroadcast returns the current state of one broadcast.
func (s *DispatchServer) GetBroadcast(ctx context.Context, req *dispatchv1.GetBroadcastRequest) (*dispatchv1.GetBroadcastResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}
	b, err := s.getOwnedBroadcast(ctx, p, u, req.GetBroadcastId())
	if err != nil {
		return nil, err
	}
	return &dispatchv1.GetBroadcastResponse{Broadcast: toProtoBroadcast(b)}, nil
}

// WatchBroadcast streams state snapshots until the broadcast terminates or
// the client goes away. Missed pushes are covered by the observer's poll.
func (s *DispatchServer) WatchBroadcast(req *dispatchv1.WatchBroadcastRequest, stream dispatchv1.DispatchService_WatchBroadcastServer) error {
	ctx := stream.Context()
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return err
	}
	if _, err := s.getOwnedBroadcast(ctx, p, u, req.GetBroadcastId()); err != nil {
		return err
	}

	updates, err := s.Observer.Watch(ctx, req.GetBroadcastId())
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			return status.Error(codes.NotFound, "broadcast not found")
		}
		return status.Errorf(codes.Internal, "watch: %v", err)
	}
	for rec := range updates {
		if err := stream.Send(&dispatchv1.BroadcastUpdate{Broadcast: toProtoBroadcast(&rec)}); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// CancelBroadcast is the requester-initiated terminal transition. Cancelling
// an already terminal broadcast reports cancelled=false without error.
func (s *DispatchServer) CancelBroadcast(ctx context.Context, req *dispatchv1.CancelBroadcastRequest) (*dispatchv1.CancelBroadcastResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := s.getOwnedBroadcast(ctx, p, u, req.GetBroadcastId()); err != nil {
		return nil, err
	}

	ok, err := s.Engine.Cancel(ctx, req.GetBroadcastId())
	if err != nil {
		if errors.Is(err, dispatch.ErrNotFound) {
			return nil, status.Error(codes.NotFound, "broadcast not found")
		}
		return nil, status.Errorf(codes.Internal, "cancel: %v", err)
	}
	return &dispatchv1.CancelBroadcastResponse{Cancelled: ok}, nil
}

// ListMyOrders retrieves paginated orders for the authenticated user.
func (s *DispatchServer) ListMyOrders(ctx context.Context, req *dispatchv1.ListMyOrdersRequest) (*dispatchv1.ListMyOrdersResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}

	pageSize := int32(defaultPageSize)
	pageToken := ""
	if req != nil {
		if req.GetPageSize() > 0 {
			pageSize = req.GetPageSize()
		}
		pageToken = req.GetPageToken()
	}
	if pageSize > int32(maxPageSize) {
		pageSize = int32(maxPageSize)
	}

	var afterSeconds, afterID int64
	if pageToken != "" {
		if err := decodeCursor(pageToken, &afterSeconds, &afterID); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
	}

	list, err := s.Orders.ListByUserIDPage(ctx, u.ID, int(pageSize), afterSeconds, afterID)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list orders: %v", err)
	}

	out := make([]*dispatchv1.Order, 0, len(list))
	for i := range list {
		out = append(out, toProtoOrder(&list[i]))
	}

	nextToken := ""
	if int32(len(list)) == pageSize && len(list) > 0 {
		last := list[len(list)-1]
		sec, err := placementToUnixSeconds(last.PlacementAt)
		if err == nil {
			nextToken = encodeCursor(sec, last.ID)
		}
	}
	return &dispatchv1.ListMyOrdersResponse{Orders: out, NextPageToken: nextToken}, nil
}

// ListMyNotifications returns the caller's terminal-transition notices.
func (s *DispatchServer) ListMyNotifications(ctx context.Context, req *dispatchv1.ListMyNotificationsRequest) (*dispatchv1.ListMyNotificationsResponse, error) {
	p, err := auth.RequireRequesterOrAdmin(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.resolveCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}

	list, err := s.Notifications.ListUserNotifications(ctx, u.ID, int(req.GetLimit()))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list notifications: %v", err)
	}
	out := make([]*dispatchv1.UserNotification, 0, len(list))
	for _, n := range list {
		out = append(out, &dispatchv1.UserNotification{
			Id:        n.ID,
			OrderId:   n.OrderID,
			Title:     n.Title,
			Body:      n.Body,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	return &dispatchv1.ListMyNotificationsResponse{Notifications: out}, nil
}

// toProtoOrder converts a models.Order to a proto Order message.
func toProtoOrder(o *models.Order) *dispatchv1.Order {
	if o == nil {
		return nil
	}
	return &dispatchv1.Order{
		Id:            o.ID,
		DestLat:       o.DestLat,
		DestLng:       o.DestLng,
		Items:         o.Items,
		Status:        string(o.Status),
		PlacementDate: o.PlacementAt,
	}
}

// toProtoBroadcast converts a models.BroadcastRecord to a proto Broadcast.
func toProtoBroadcast(b *models.BroadcastRecord) *dispatchv1.Broadcast {
	if b == nil {
		return nil
	}
	out := &dispatchv1.Broadcast{
		Id:              b.ID,
		Kind:            kindToProto(b.Kind),
		OrderId:         b.OrderID,
		RadiusKm:        b.RadiusKm,
		Phase:           phaseToProto(b.Phase),
		Round:           int32(b.Round),
		Status:          statusToProto(b.Status),
		PhaseDeadline:   b.PhaseDeadline,
		OverallDeadline: b.OverallDeadline,
	}
	if b.AcceptedBy != nil {
		out.AcceptedBy = *b.AcceptedBy
	}
	if b.ResultResourceID != nil {
		out.ResultResourceId = *b.ResultResourceID
	}
	if b.NotifiedIDs != "" {
		out.NotifiedCount = int32(len(strings.Split(b.NotifiedIDs, ",")))
	}
	return out
}

func kindToProto(k models.BroadcastKind) dispatchv1.BroadcastKind {
	switch k {
	case models.BroadcastKindCartOrder:
		return dispatchv1.BroadcastKind_BROADCAST_KIND_CART_ORDER
	case models.BroadcastKindPrescriptionOrder:
		return dispatchv1.BroadcastKind_BROADCAST_KIND_PRESCRIPTION_ORDER
	case models.BroadcastKindDelivery:
		return dispatchv1.BroadcastKind_BROADCAST_KIND_DELIVERY
	default:
		return dispatchv1.BroadcastKind_BROADCAST_KIND_UNSPECIFIED
	}
}

func kindFromProto(k dispatchv1.BroadcastKind) (models.BroadcastKind, error) {
	switch k {
	case dispatchv1.BroadcastKind_BROADCAST_KIND_CART_ORDER:
		return models.BroadcastKindCartOrder, nil
	case dispatchv1.BroadcastKind_BROADCAST_KIND_PRESCRIPTION_ORDER:
		return models.BroadcastKindPrescriptionOrder, nil
	case dispatchv1.BroadcastKind_BROADCAST_KIND_DELIVERY:
		return models.BroadcastKindDelivery, nil
	default:
		return "", status.Error(codes.InvalidArgument, "kind is required")
	}
}

func phaseToProto(p models.BroadcastPhase) dispatchv1.BroadcastPhase {
	switch p {
	case models.BroadcastPhasePriority:
		return dispatchv1.BroadcastPhase_BROADCAST_PHASE_PRIORITY
	case models.BroadcastPhaseExtended:
		return dispatchv1.BroadcastPhase_BROADCAST_PHASE_EXTENDED
	default:
		return dispatchv1.BroadcastPhase_BROADCAST_PHASE_UNSPECIFIED
	}
}

func statusToProto(s models.BroadcastStatus) dispatchv1.BroadcastStatus {
	switch s {
	case models.BroadcastStatusPending:
		return dispatchv1.BroadcastStatus_BROADCAST_STATUS_PENDING
	case models.BroadcastStatusAccepted:
		return dispatchv1.BroadcastStatus_BROADCAST_STATUS_ACCEPTED
	case models.BroadcastStatusFailed:
		return dispatchv1.BroadcastStatus_BROADCAST_STATUS_FAILED
	case models.BroadcastStatusCancelled:
		return dispatchv1.BroadcastStatus_BROADCAST_STATUS_CANCELLED
	default:
		return dispatchv1.BroadcastStatus_BROADCAST_STATUS_UNSPECIFIED
	}
}

// placementToUnixSeconds parses the SQLite datetime string into unix seconds.
func placementToUnixSeconds(placement string) (int64, error) {
	t, err := time.Parse(sqliteDateFormat, placement)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// encodeCursor builds an opaque next_page_token from placement unix seconds and order id.
func encodeCursor(seconds int64, id int64) string {
	raw := strconv.FormatInt(seconds, 10) + cursorSeparator + strconv.FormatInt(id, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses an opaque page_token into placement unix seconds and order id.
func decodeCursor(token string, seconds *int64, id *int64) error {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("base64: %w", err)
	}
	parts := strings.SplitN(string(b), cursorSeparator, 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid cursor format")
	}
	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return fmt.Errorf("seconds: %w", err)
	}
	i, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*seconds = s
	*id = i
	return nil
}
