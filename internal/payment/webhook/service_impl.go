// Package webhook verifies, records and dispatches inbound provider
// callbacks. Verification is deployment-level: shared HMAC secrets live
// in the environment, never in per-company rows.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	obsmetrics "github.com/facturante/facturante/internal/observability/metrics"
	"github.com/facturante/facturante/internal/payment/adapters"
	"github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/internal/payment/refund"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"github.com/facturante/facturante/pkg/crypto/signing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeUnmatched = "unmatched"
)

// Request is one inbound callback as received on the wire, header values
// already extracted by the transport layer.
type Request struct {
	Provider  string
	EventID   string
	Signature string
	Timestamp string
	EventType string
	Body      []byte
}

// Receipt is the acknowledgement for a verified callback: the ledger row
// it landed on and, when the event matched, the settled record.
type Receipt struct {
	Outcome   string
	EventID   snowflake.ID
	RelatedID *snowflake.ID
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Registry   *adapters.Registry
	Repo       domain.Repository
	PaymentSvc *paymentservice.Service
	RefundSvc  *refund.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	registry   *adapters.Registry
	repo       domain.Repository
	paymentSvc *paymentservice.Service
	refundSvc  *refund.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		registry:   p.Registry,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		refundSvc:  p.RefundSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest handles a payment callback: verify, record, translate, apply.
// After the signature checks out the event is always acknowledged, even
// when the payload is junk or matches nothing; the ledger keeps the
// evidence and the provider stops retrying.
func (s *Service) Ingest(ctx context.Context, req Request) (Receipt, error) {
	stored, dup, err := s.verifyAndRecord(ctx, &req)
	if err != nil {
		return Receipt{}, err
	}
	if dup {
		return Receipt{Outcome: OutcomeDuplicate, EventID: stored.ID, RelatedID: stored.RelatedID}, nil
	}

	adapter, err := s.translationAdapter(req.Provider)
	if err != nil {
		return Receipt{}, err
	}

	result, err := adapter.HandleWebhook(ctx, req.Body)
	if err != nil {
		s.reject(ctx, stored, req.Provider)
		return Receipt{Outcome: OutcomeRejected, EventID: stored.ID}, nil
	}

	payment, err := s.paymentSvc.ApplyWebhook(ctx, req.Provider, result)
	if err != nil {
		return Receipt{}, err
	}

	var relatedID *snowflake.ID
	outcome := OutcomeUnmatched
	if payment != nil {
		relatedID = &payment.ID
		outcome = OutcomeProcessed
	}
	if err := s.repo.MarkEventProcessed(ctx, s.db, stored.ID, relatedID, s.clock.Now()); err != nil {
		return Receipt{}, err
	}
	s.obsMetrics.RecordWebhookEvent(req.Provider, outcome)
	return Receipt{Outcome: outcome, EventID: stored.ID, RelatedID: relatedID}, nil
}

// IngestRefund handles a refund callback through the refund gateway's
// translation.
func (s *Service) IngestRefund(ctx context.Context, req Request) (Receipt, error) {
	stored, dup, err := s.verifyAndRecord(ctx, &req)
	if err != nil {
		return Receipt{}, err
	}
	if dup {
		return Receipt{Outcome: OutcomeDuplicate, EventID: stored.ID, RelatedID: stored.RelatedID}, nil
	}

	adapter, err := s.translationAdapter(req.Provider)
	if err != nil {
		return Receipt{}, err
	}
	gateway, ok := adapter.(domain.RefundGateway)
	if !ok {
		s.reject(ctx, stored, req.Provider)
		return Receipt{Outcome: OutcomeRejected, EventID: stored.ID}, nil
	}

	result, err := gateway.HandleRefundWebhook(ctx, req.Body)
	if err != nil {
		s.reject(ctx, stored, req.Provider)
		return Receipt{Outcome: OutcomeRejected, EventID: stored.ID}, nil
	}

	refunded, err := s.refundSvc.ApplyWebhook(ctx, req.Provider, result)
	if err != nil {
		return Receipt{}, err
	}

	var relatedID *snowflake.ID
	outcome := OutcomeUnmatched
	if refunded != nil {
		relatedID = &refunded.ID
		outcome = OutcomeProcessed
	}
	if err := s.repo.MarkEventProcessed(ctx, s.db, stored.ID, relatedID, s.clock.Now()); err != nil {
		return Receipt{}, err
	}
	s.obsMetrics.RecordWebhookEvent(req.Provider, outcome)
	return Receipt{Outcome: outcome, EventID: stored.ID, RelatedID: relatedID}, nil
}

// verifyAndRecord runs the shared front half: signature and freshness
// checks, then the insert-first idempotency ledger write. The event row
// exists before any business logic runs.
func (s *Service) verifyAndRecord(ctx context.Context, req *Request) (*domain.WebhookEvent, bool, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if req.Provider == "" || !s.registry.ProviderExists(req.Provider) {
		return nil, false, domain.ErrProviderNotFound
	}

	if err := s.verifySignature(req); err != nil {
		return nil, false, err
	}

	if !json.Valid(req.Body) {
		// Signature passed so the sender holds the secret; record the
		// junk and acknowledge.
		req.Body, _ = json.Marshal(map[string]string{"raw": string(req.Body)})
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		sum := sha256.Sum256(req.Body)
		eventID = hex.EncodeToString(sum[:])
	}
	eventType := strings.TrimSpace(req.EventType)
	if eventType == "" {
		eventType = "payment"
	}

	event := &domain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        req.Provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         datatypes.JSON(req.Body),
		Signature:       req.Signature,
		Status:          domain.EventPending,
		ReceivedAt:      s.clock.Now(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, event)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return event, false, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, req.Provider, eventID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, domain.ErrInvalidEvent
	}
	if stored.ProcessedAt != nil {
		s.obsMetrics.RecordWebhookEvent(req.Provider, OutcomeDuplicate)
		return stored, true, nil
	}
	// The earlier delivery crashed mid-processing; this retry resumes it.
	return stored, false, nil
}

// verifySignature checks the HMAC and, when a timestamp header is
// present, bounds its age both ways so replayed captures are refused.
func (s *Service) verifySignature(req *Request) error {
	secret := s.cfg.WebhookSecret(req.Provider)
	if secret == "" {
		return domain.ErrSecretNotConfigured
	}

	signature := strings.TrimSpace(req.Signature)
	if scheme, rest, ok := strings.Cut(signature, "="); ok && strings.EqualFold(scheme, "sha256") {
		signature = rest
	}
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	message := req.Body
	timestamp := strings.TrimSpace(req.Timestamp)
	if timestamp != "" {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return domain.ErrStaleTimestamp
		}
		age := s.clock.Now().Unix() - unix
		if age < 0 {
			age = -age
		}
		if float64(age) > s.cfg.ReplayWindow.Seconds() {
			return domain.ErrStaleTimestamp
		}
		message = append([]byte(timestamp+"."), req.Body...)
	}

	expected := signing.HexHMACSHA256(message, []byte(secret))
	if !signing.Equal(strings.ToLower(signature), expected) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// translationAdapter builds a credential-less adapter: webhook handling
// is pure payload translation and never calls out to the provider.
func (s *Service) translationAdapter(provider string) (domain.GatewayAdapter, error) {
	return s.registry.NewAdapter(provider, domain.AdapterConfig{
		Provider: provider,
		Config:   map[string]any{},
		Clock:    s.clock,
	})
}

func (s *Service) reject(ctx context.Context, stored *domain.WebhookEvent, provider string) {
	if err := s.repo.MarkEventRejected(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		s.log.Error("failed to mark webhook event rejected",
			zap.String("event_id", stored.ID.String()),
			zap.Error(err),
		)
	}
	s.obsMetrics.RecordWebhookEvent(provider, OutcomeRejected)
}
