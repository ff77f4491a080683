package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"github.com/kursadbilgin/mandate-engine/internal/service"
)

const (
	defaultMandateAmount  = "2.00"
	defaultValidityMonths = 8
)

// MandateHandoff is the part of service.Handoff the HTTP API drives.
type MandateHandoff interface {
	Begin(ctx context.Context, key string, mandateID domain.MandateID) (*domain.PendingMarker, error)
	Pending(ctx context.Context, key string) (*domain.PendingMarker, error)
	Resume(ctx context.Context, key string) (<-chan domain.ResolutionOutcome, error)
	Dispatch(ctx context.Context, mandateID domain.MandateID) (<-chan domain.ResolutionOutcome, error)
}

// ResolveRequestPublisher hands a mandate to the background workers.
type ResolveRequestPublisher interface {
	PublishResolveRequest(ctx context.Context, req queue.ResolveRequest) error
}

// MandateLinkConfig holds the merchant fields rendered into every deep link.
type MandateLinkConfig struct {
	PayeeVPA       string
	PayeeName      string
	MerchantCode   string
	MandateName    string
	Note           string
	DefaultAmount  string
	ValidityMonths int
}

type MandateHandler struct {
	handoff  MandateHandoff
	requests ResolveRequestPublisher
	link     MandateLinkConfig
	newID    func() domain.MandateID
	now      func() time.Time
}

// NewMandateHandler builds the mandate routes. requests may be nil when no broker is configured.
func NewMandateHandler(handoff MandateHandoff, requests ResolveRequestPublisher, link MandateLinkConfig) (*MandateHandler, error) {
	if handoff == nil {
		return nil, fmt.Errorf("mandate handoff is required")
	}
	if strings.TrimSpace(link.PayeeVPA) == "" {
		return nil, fmt.Errorf("payee vpa is required")
	}
	if strings.TrimSpace(link.DefaultAmount) == "" {
		link.DefaultAmount = defaultMandateAmount
	}
	if link.ValidityMonths < 1 {
		link.ValidityMonths = defaultValidityMonths
	}

	return &MandateHandler{
		handoff:  handoff,
		requests: requests,
		link:     link,
		newID:    domain.NewMandateID,
		now:      time.Now,
	}, nil
}

func RegisterMandateRoutes(
	router fiber.Router,
	handoff MandateHandoff,
	requests ResolveRequestPublisher,
	link MandateLinkConfig,
) error {
	h, err := NewMandateHandler(handoff, requests, link)
	if err != nil {
		return err
	}
	h.register(router)
	return nil
}

func (h *MandateHandler) register(router fiber.Router) {
	v1 := router.Group("/v1")
	v1.Post("/mandates", h.CreateMandate)
	v1.Get("/mandates/pending", h.GetPending)
	v1.Post("/mandates/pending/resume", h.ResumePending)
	v1.Post("/mandates/:id/resolve", h.ResolveMandate)
	v1.Post("/mandates/:id/resolve/async", h.EnqueueResolve)
}

type createMandateRequest struct {
	SessionKey string `json:"sessionKey"`
	Amount     string `json:"amount"`
}

type createMandateResponse struct {
	MandateID  string    `json:"decentroMandateId"`
	SessionKey string    `json:"sessionKey"`
	DeepLink   string    `json:"deepLink"`
	CreatedAt  time.Time `json:"createdAt"`
}

type pendingMandateResponse struct {
	MandateID  string    `json:"decentroMandateId"`
	SessionKey string    `json:"sessionKey"`
	CreatedAt  time.Time `json:"createdAt"`
}

type outcomeResponse struct {
	MandateStatus string    `json:"mandateStatus"`
	MandateID     string    `json:"decentroMandateId"`
	Message       string    `json:"message"`
	Reason        string    `json:"reason"`
	Attempts      int       `json:"attempts"`
	Timestamp     time.Time `json:"timestamp"`
}

// CreateMandate issues a mandate id, records it as pending and returns the deep link to launch.
func (h *MandateHandler) CreateMandate(c *fiber.Ctx) error {
	var req createMandateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	mandateID := h.newID()
	start := h.now().UTC()

	amount := strings.TrimSpace(req.Amount)
	if amount == "" {
		amount = h.link.DefaultAmount
	}

	link := domain.MandateLink{
		PayeeVPA:      h.link.PayeeVPA,
		PayeeName:     h.link.PayeeName,
		MandateName:   h.link.MandateName,
		TxnRef:        mandateID.String(),
		ValidityStart: start,
		ValidityEnd:   start.AddDate(0, h.link.ValidityMonths, 0),
		Amount:        amount,
		MerchantCode:  h.link.MerchantCode,
		Note:          h.link.Note,
	}
	uri, err := link.URI()
	if err != nil {
		return toHTTPError(err)
	}

	marker, err := h.handoff.Begin(c.UserContext(), req.SessionKey, mandateID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(createMandateResponse{
		MandateID:  marker.MandateID.String(),
		SessionKey: marker.Key,
		DeepLink:   uri,
		CreatedAt:  marker.CreatedAt,
	})
}

func (h *MandateHandler) GetPending(c *fiber.Ctx) error {
	marker, err := h.handoff.Pending(c.UserContext(), domain.NormalizeMarkerKey(c.Query("sessionKey")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(pendingMandateResponse{
		MandateID:  marker.MandateID.String(),
		SessionKey: marker.Key,
		CreatedAt:  marker.CreatedAt,
	})
}

// ResumePending consumes the pending marker and blocks until its outcome is delivered.
func (h *MandateHandler) ResumePending(c *fiber.Ctx) error {
	ctx := h.requestContext(c)

	ch, err := h.handoff.Resume(ctx, domain.NormalizeMarkerKey(c.Query("sessionKey")))
	if err != nil {
		return toHTTPError(err)
	}
	return h.respondWithOutcome(c, ctx, ch)
}

func (h *MandateHandler) ResolveMandate(c *fiber.Ctx) error {
	mandateID, err := domain.ParseMandateID(c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithMandateID(h.requestContext(c), mandateID.String())

	ch, err := h.handoff.Dispatch(ctx, mandateID)
	if err != nil {
		return toHTTPError(err)
	}
	return h.respondWithOutcome(c, ctx, ch)
}

// EnqueueResolve publishes a resolve request; the outcome is published to the outcomes queue.
func (h *MandateHandler) EnqueueResolve(c *fiber.Ctx) error {
	if h.requests == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "background resolution is not configured")
	}

	mandateID, err := domain.ParseMandateID(c.Params("id"))
	if err != nil {
		return toHTTPError(err)
	}

	req := queue.ResolveRequest{
		MandateID:     mandateID.String(),
		CorrelationID: requestCorrelationID(c),
		RequestedAt:   h.now().UTC(),
	}
	if err := h.requests.PublishResolveRequest(c.UserContext(), req); err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"decentroMandateId": mandateID.String(),
		"status":            "queued",
	})
}

// requestContext is the user context, safe to hand to goroutines that outlive the fasthttp ctx.
func (h *MandateHandler) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

func (h *MandateHandler) respondWithOutcome(c *fiber.Ctx, ctx context.Context, ch <-chan domain.ResolutionOutcome) error {
	outcome, err := service.Await(ctx, ch)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "mandate resolution canceled")
		}
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toOutcomeResponse(outcome))
}

func toOutcomeResponse(o domain.ResolutionOutcome) outcomeResponse {
	return outcomeResponse{
		MandateStatus: o.FinalState.String(),
		MandateID:     o.MandateID.String(),
		Message:       o.Message,
		Reason:        o.Reason.String(),
		Attempts:      o.Attempts,
		Timestamp:     o.Timestamp,
	}
}
