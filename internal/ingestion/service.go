// Package ingestion turns the files uploaded by location pushes into admin
// records.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/batch"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	"github.com/smallbiznis/possync/internal/ratelimit"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/internal/transfer"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lockKey = "possync:ingestion"

var ErrIngestionRunning = errors.New("ingestion_already_running")

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Ledger      syncdomain.Service
	Contingency contingencydomain.Service
	Sales       salesdomain.Service
	Reference   refdomain.Service
	Store       *Store
	SyncConfig  *config.SyncConfigHolder
	Locker      *ratelimit.Locker       `optional:"true"`
	Metrics     *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	ledger      syncdomain.Service
	contingency contingencydomain.Service
	sales       salesdomain.Service
	reference   refdomain.Service
	store       *Store
	syncConfig  *config.SyncConfigHolder
	locker      *ratelimit.Locker
	metrics     *obsmetrics.SyncMetrics
}

func New(p Params) *Service {
	return &Service{
		log:         p.Log.Named("ingestion.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		ledger:      p.Ledger,
		contingency: p.Contingency,
		sales:       p.Sales,
		reference:   p.Reference,
		store:       p.Store,
		syncConfig:  p.SyncConfig,
		locker:      p.Locker,
		metrics:     p.Metrics,
	}
}

// EventResult is the outcome for one location. Status is empty when the event
// was claimed by another worker first.
type EventResult struct {
	SyncEventID  snowflake.ID
	LocationCode string
	Status       syncdomain.Status
	Superseded   []snowflake.ID
	Batches      map[string]batch.Result
	Err          error
}

// ProcessPending ingests the newest uploaded push of every location and
// discards the older ones. A failing location never stops the others.
func (s *Service) ProcessPending(ctx context.Context) ([]EventResult, error) {
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	log := s.log.With(zap.String("correlation_id", cid))

	if s.locker.Enabled() {
		token, ok, err := s.locker.TryLock(ctx, lockKey, s.syncConfig.Get().IngestionLockTTL)
		switch {
		case err != nil:
			log.Warn("ingestion.lock_unavailable", zap.Error(err))
		case !ok:
			return nil, ErrIngestionRunning
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
					log.Warn("ingestion.lock_release_failed", zap.Error(err))
				}
			}()
		}
	}

	if _, err := s.ledger.RecoverStale(ctx); err != nil {
		return nil, err
	}
	pending, err := s.ledger.ListPending(ctx, syncdomain.TypePush)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		log.Info("ingestion.nothing_pending")
		return nil, nil
	}

	groups := latestPerLocation(pending)
	unfinished, err := s.ledger.ListUnfinishedUploads(ctx, syncdomain.TypePush)
	if err != nil {
		return nil, err
	}
	groups = withUnfinished(groups, unfinished)
	results := make([]EventResult, 0, len(groups))
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := EventResult{SyncEventID: group.latest.ID, LocationCode: group.latest.LocationCode}

		for _, older := range group.older {
			if err := s.ledger.Supersede(ctx, older.ID, group.latest.ID); err != nil {
				log.Warn("ingestion.supersede_failed", zap.String("sync_event_id", older.ID.String()), zap.Error(err))
				continue
			}
			result.Superseded = append(result.Superseded, older.ID)
		}

		s.ingestEvent(ctx, log, group.latest, &result)
		results = append(results, result)
	}
	return results, nil
}

type locationGroup struct {
	latest syncdomain.SyncEvent
	older  []syncdomain.SyncEvent
}

// latestPerLocation keeps the newest event per location; ties on createdAt go
// to the larger id. Groups come back ordered by location code.
func latestPerLocation(events []syncdomain.SyncEvent) []locationGroup {
	byLocation := make(map[string]*locationGroup)
	for _, event := range events {
		group, ok := byLocation[event.LocationCode]
		if !ok {
			byLocation[event.LocationCode] = &locationGroup{latest: event}
			continue
		}
		if newer(event, group.latest) {
			group.older = append(group.older, group.latest)
			group.latest = event
		} else {
			group.older = append(group.older, event)
		}
	}

	groups := make([]locationGroup, 0, len(byLocation))
	for _, group := range byLocation {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].latest.LocationCode < groups[j].latest.LocationCode
	})
	return groups
}

// withUnfinished adds pending events whose upload never completed to the older
// set of their location when a newer uploaded event exists. Ones newer than the
// latest upload may still be receiving files and are left alone.
func withUnfinished(groups []locationGroup, unfinished []syncdomain.SyncEvent) []locationGroup {
	index := make(map[string]int, len(groups))
	for i, group := range groups {
		index[group.latest.LocationCode] = i
	}
	for _, event := range unfinished {
		i, ok := index[event.LocationCode]
		if !ok || !newer(groups[i].latest, event) {
			continue
		}
		groups[i].older = append(groups[i].older, event)
	}
	return groups
}

func newer(a, b syncdomain.SyncEvent) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *Service) ingestEvent(ctx context.Context, log *zap.Logger, event syncdomain.SyncEvent, result *EventResult) {
	log = log.With(
		zap.String("sync_event_id", event.ID.String()),
		zap.String("location_code", event.LocationCode),
	)

	if _, err := s.ledger.Claim(ctx, event.ID); err != nil {
		if errors.Is(err, syncdomain.ErrNotPending) || errors.Is(err, syncdomain.ErrSyncInProgress) {
			log.Info("ingestion.claim_lost", zap.Error(err))
			return
		}
		result.Err = err
		log.Error("ingestion.claim_failed", zap.Error(err))
		return
	}

	start := s.clock.Now()
	details, err := s.ingestFiles(ctx, event)
	result.Batches = details.Batches

	outcome := syncdomain.Outcome{Success: err == nil, Details: details}
	result.Status = syncdomain.StatusSuccess
	if err != nil {
		result.Err = err
		result.Status = syncdomain.StatusFailed
		outcome.Comment = err.Error()
		s.metrics.RecordFailure(string(syncdomain.TypePush), err)
		log.Error("ingestion.event_failed", zap.Error(err))
	}
	s.metrics.ObserveSync(string(syncdomain.TypePush), string(result.Status), s.clock.Now().Sub(start))

	if _, err := s.ledger.Complete(context.WithoutCancel(ctx), event.ID, outcome); err != nil {
		log.Error("ingestion.complete_failed", zap.Error(err))
		if result.Err == nil {
			result.Err = err
		}
		return
	}
	log.Info("ingestion.event_done",
		zap.String("status", string(result.Status)),
		zap.Int("sales", details.SalesSynced),
		zap.Int("payments", details.PaymentsSynced),
	)
}

func (s *Service) ingestFiles(ctx context.Context, event syncdomain.SyncEvent) (syncdomain.Details, error) {
	details := syncdomain.Details{Batches: make(map[string]batch.Result, len(transfer.Kinds))}
	refs := newResolver(s, event.LocationCode)

	for _, kind := range transfer.Kinds {
		res, err := s.ingestFile(ctx, event, kind, refs)
		details.Batches[string(kind)] = res
		details.Errors = append(details.Errors, res.ErrorStrings(string(kind))...)
		s.metrics.AddRows("ingest."+string(kind), obsmetrics.RowOutcomeProcessed, res.Processed)
		s.metrics.AddRows("ingest."+string(kind), obsmetrics.RowOutcomeSkipped, res.Skipped)
		s.metrics.AddRows("ingest."+string(kind), obsmetrics.RowOutcomeFailed, res.Failed())
		if err != nil {
			return details, fmt.Errorf("%s: %w", kind, err)
		}
	}

	details.ContingenciesSynced = details.Batches[string(transfer.KindContingencies)].Processed
	details.SalesSynced = details.Batches[string(transfer.KindSales)].Processed
	details.PaymentsSynced = details.Batches[string(transfer.KindPayments)].Processed
	return details, nil
}

func (s *Service) ingestFile(ctx context.Context, event syncdomain.SyncEvent, kind transfer.Kind, refs *resolver) (batch.Result, error) {
	var res batch.Result

	file, ok, err := s.store.Open(event.ID, kind)
	if err != nil || !ok {
		return res, err
	}
	defer file.Close()

	reader, err := transfer.NewReader(file, kind.Header())
	if err != nil {
		return res, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		record, line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			res.Fail(line, "", err)
			continue
		}

		key := transfer.RowKey(record)
		switch err := s.ingestRow(ctx, kind, record, key, refs); {
		case err == nil:
			res.Ok()
		case errors.Is(err, salesdomain.ErrAlreadyImported):
			res.Skip()
		default:
			res.Fail(line, record[0], err)
		}
	}
}

func (s *Service) ingestRow(ctx context.Context, kind transfer.Kind, record []string, key string, refs *resolver) error {
	switch kind {
	case transfer.KindContingencies:
		row, err := transfer.DecodeContingency(record)
		if err != nil {
			return err
		}
		return s.ingestContingency(ctx, row, refs)
	case transfer.KindSales:
		row, err := transfer.DecodeSale(record)
		if err != nil {
			return err
		}
		return s.ingestSale(ctx, row, key, refs)
	case transfer.KindPayments:
		row, err := transfer.DecodePayment(record)
		if err != nil {
			return err
		}
		return s.ingestPayment(ctx, row, key, refs)
	default:
		return transfer.ErrUnknownKind
	}
}

func (s *Service) ingestContingency(ctx context.Context, row transfer.ContingencyRow, refs *resolver) error {
	if row.LocationCode != "" && row.LocationCode != refs.locationCode {
		return fmt.Errorf("locationCode: %q does not match pushing location %q", row.LocationCode, refs.locationCode)
	}
	startedBy, err := refs.user(ctx, row.StartedByID)
	if err != nil {
		return err
	}
	replica, err := s.contingency.ImportReplica(ctx, contingencydomain.ImportReplicaRequest{
		SourceID:      row.ID,
		LocationCode:  refs.locationCode,
		StartedAt:     row.StartedAt,
		EndedAt:       row.EndedAt,
		StartedByID:   startedBy,
		StartedByName: row.StartedByName,
	})
	if err != nil {
		return err
	}
	refs.contingencies[row.ID] = &replica.ID
	return nil
}

func (s *Service) ingestSale(ctx context.Context, row transfer.SaleRow, key string, refs *resolver) error {
	contingencyID, err := refs.contingency(ctx, row.ContingencyID)
	if err != nil {
		return err
	}
	createdBy, err := refs.user(ctx, row.CreatedByID)
	if err != nil {
		return err
	}
	device, err := refs.device(ctx, row.DeviceID)
	if err != nil {
		return err
	}

	locationCode := row.LocationCode
	if locationCode == "" {
		locationCode = refs.locationCode
	}
	quoteLocation := row.Quote.LocationCode
	if quoteLocation == "" {
		quoteLocation = locationCode
	}

	quote := salesdomain.Quote{
		ID:                s.genID.Generate(),
		PublicID:          row.Quote.PublicID,
		RUT:               row.RUT,
		Amount:            row.Quote.Amount,
		PaymentMethod:     salesdomain.PaymentMethod(row.Quote.PaymentMethod),
		TBKNumber:         row.Quote.TBKNumber,
		DownPayment:       row.Quote.DownPayment,
		DeferredPayment:   row.Quote.DeferredPayment,
		Installments:      row.Quote.Installments,
		Interest:          row.Quote.Interest,
		InstallmentAmount: row.Quote.InstallmentAmount,
		TotalAmount:       row.Quote.TotalAmount,
		QuoteDate:         row.Quote.QuoteDate,
		BillingDate:       row.Quote.BillingDate,
		LocationCode:      quoteLocation,
		ContingencyID:     contingencyID,
		CreatedAt:         s.clock.Now(),
	}
	sale := salesdomain.Sale{
		ID:             s.genID.Generate(),
		Folio:          row.Folio,
		RUT:            row.RUT,
		ClientFullName: row.ClientFullName,
		LocationCode:   locationCode,
		CreatedAt:      row.CreatedAt,
		CreatedByID:    createdBy,
		ContingencyID:  contingencyID,
		DeviceID:       device,
	}
	_, err = s.sales.ImportSale(ctx, salesdomain.ImportSaleRequest{Quote: quote, Sale: sale, IdempotencyKey: key})
	return err
}

func (s *Service) ingestPayment(ctx context.Context, row transfer.PaymentRow, key string, refs *resolver) error {
	contingencyID, err := refs.contingency(ctx, row.ContingencyID)
	if err != nil {
		return err
	}
	createdBy, err := refs.user(ctx, row.CreatedByID)
	if err != nil {
		return err
	}
	device, err := refs.device(ctx, row.DeviceID)
	if err != nil {
		return err
	}

	payment := salesdomain.Payment{
		ID:             s.genID.Generate(),
		PublicID:       row.PublicID,
		Amount:         row.Amount,
		PaymentMethod:  salesdomain.PaymentMethod(row.PaymentMethod),
		RUT:            row.RUT,
		ClientFullName: row.ClientFullName,
		LocationCode:   refs.locationCode,
		CreatedAt:      row.CreatedAt,
		CreatedByID:    createdBy,
		ContingencyID:  contingencyID,
		DeviceID:       device,
	}
	if row.VoucherID != "" {
		voucher := row.VoucherID
		payment.VoucherID = &voucher
	}
	_, err = s.sales.ImportPayment(ctx, salesdomain.ImportPaymentRequest{Payment: payment, IdempotencyKey: key})
	return err
}

// resolver maps ids written by a location to admin ids. References the admin
// does not know resolve to nil. Lookups are cached for the event.
type resolver struct {
	svc           *Service
	locationCode  string
	users         map[int64]*snowflake.ID
	devices       map[int64]*snowflake.ID
	contingencies map[int64]*snowflake.ID
}

func newResolver(svc *Service, locationCode string) *resolver {
	return &resolver{
		svc:           svc,
		locationCode:  locationCode,
		users:         map[int64]*snowflake.ID{},
		devices:       map[int64]*snowflake.ID{},
		contingencies: map[int64]*snowflake.ID{},
	}
}

func (r *resolver) user(ctx context.Context, id *int64) (*snowflake.ID, error) {
	return r.cached(r.users, id, func() (*snowflake.ID, error) {
		user, err := r.svc.reference.FindUser(ctx, snowflake.ID(*id))
		if err != nil || user == nil {
			return nil, err
		}
		return &user.ID, nil
	})
}

func (r *resolver) device(ctx context.Context, id *int64) (*snowflake.ID, error) {
	return r.cached(r.devices, id, func() (*snowflake.ID, error) {
		device, err := r.svc.reference.FindDevice(ctx, snowflake.ID(*id))
		if err != nil || device == nil {
			return nil, err
		}
		return &device.ID, nil
	})
}

func (r *resolver) contingency(ctx context.Context, sourceID *int64) (*snowflake.ID, error) {
	return r.cached(r.contingencies, sourceID, func() (*snowflake.ID, error) {
		replica, err := r.svc.contingency.FindReplica(ctx, r.locationCode, *sourceID)
		if errors.Is(err, contingencydomain.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &replica.ID, nil
	})
}

func (r *resolver) cached(cache map[int64]*snowflake.ID, id *int64, lookup func() (*snowflake.ID, error)) (*snowflake.ID, error) {
	if id == nil || *id == 0 {
		return nil, nil
	}
	if hit, ok := cache[*id]; ok {
		return hit, nil
	}
	resolved, err := lookup()
	if err != nil {
		return nil, err
	}
	cache[*id] = resolved
	return resolved, nil
}
