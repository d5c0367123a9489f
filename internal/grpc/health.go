package grpcserver

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/tejusbharadwaj/babelgas/internal/models"
)

type servingStatus = grpc_health_v1.HealthCheckResponse_ServingStatus

// HealthChecker serves grpc.health.v1 with one service per sensor unique
// id. The empty service name reports the process itself.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer

	mu       sync.RWMutex
	statuses map[string]servingStatus
	watchers map[string]map[chan servingStatus]struct{}
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		statuses: map[string]servingStatus{"": grpc_health_v1.HealthCheckResponse_SERVING},
		watchers: make(map[string]map[chan servingStatus]struct{}),
	}
}

// Check reports the last published status of req.Service.
func (h *HealthChecker) Check(_ context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	st, ok := h.statuses[req.Service]
	h.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.Service)
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch streams the status of req.Service, starting with the current one.
// Services that are not registered report SERVICE_UNKNOWN.
func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	updates := make(chan servingStatus, 1)

	h.mu.Lock()
	current, ok := h.statuses[req.Service]
	if !ok {
		current = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
	if h.watchers[req.Service] == nil {
		h.watchers[req.Service] = make(map[chan servingStatus]struct{})
	}
	h.watchers[req.Service][updates] = struct{}{}
	updates <- current
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.watchers[req.Service], updates)
		if len(h.watchers[req.Service]) == 0 {
			delete(h.watchers, req.Service)
		}
		h.mu.Unlock()
	}()

	var last servingStatus = -1
	for {
		select {
		case st := <-updates:
			if st == last {
				continue
			}
			last = st
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: st}); err != nil {
				return status.Errorf(codes.Canceled, "send: %v", err)
			}
		case <-stream.Context().Done():
			return status.Error(codes.Canceled, "watch cancelled")
		}
	}
}

// Publish implements entry.Publisher.
func (h *HealthChecker) Publish(state models.EntityState) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state.Available {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.SetServingStatus(state.UniqueID, st)
}

// Remove implements entry.Publisher.
func (h *HealthChecker) Remove(uniqueID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.statuses, uniqueID)
	h.notifyLocked(uniqueID, grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN)
}

// SetServingStatus records st for service and notifies its watchers.
func (h *HealthChecker) SetServingStatus(service string, st servingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[service] = st
	h.notifyLocked(service, st)
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthChecker) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for svc := range h.statuses {
		h.statuses[svc] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		h.notifyLocked(svc, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
}

// notifyLocked delivers st to every watcher of service, replacing a status
// the watcher has not consumed yet.
func (h *HealthChecker) notifyLocked(service string, st servingStatus) {
	for ch := range h.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}
