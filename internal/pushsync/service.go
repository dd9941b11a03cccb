// Package pushsync sends the sales and payments recorded during contingencies
// to the admin node.
package pushsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/possync/internal/batch"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	"github.com/smallbiznis/possync/internal/remote"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/internal/transfer"
	"github.com/smallbiznis/possync/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Admin is the part of the admin API a push needs.
type Admin interface {
	StartPush(ctx context.Context, locationCode string) (int64, error)
	Upload(ctx context.Context, remoteSyncID int64, kind transfer.Kind, path string) (remote.UploadResponse, error)
	CompletePush(ctx context.Context, remoteSyncID int64) error
}

type Request struct {
	ContingencyID snowflake.ID
	All           bool
	UserID        *snowflake.ID
}

// Result summarizes a push run. Errors holds row and transport problems; the
// run only counts as successful when it is empty.
type Result struct {
	SyncEventID         snowflake.ID
	RemoteSyncID        int64
	Contingencies       int
	ContingenciesSynced int
	SalesSynced         int
	PaymentsSynced      int
	Errors              []string
}

func (r Result) Ok() bool {
	return len(r.Errors) == 0
}

type Params struct {
	fx.In

	Config      config.Config
	Log         *zap.Logger
	Clock       clock.Clock
	Ledger      syncdomain.Service
	Contingency contingencydomain.Service
	Sales       salesdomain.Service
	Reference   refdomain.Service
	Remote      *remote.Client
	Metrics     *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	tempDir     string
	log         *zap.Logger
	clock       clock.Clock
	ledger      syncdomain.Service
	contingency contingencydomain.Service
	sales       salesdomain.Service
	reference   refdomain.Service
	admin       Admin
	metrics     *obsmetrics.SyncMetrics
}

func New(p Params) *Service {
	return NewWithAdmin(p, p.Remote)
}

func NewWithAdmin(p Params, admin Admin) *Service {
	return &Service{
		tempDir:     p.Config.TempDir,
		log:         p.Log.Named("pushsync.service"),
		clock:       p.Clock,
		ledger:      p.Ledger,
		contingency: p.Contingency,
		sales:       p.Sales,
		reference:   p.Reference,
		admin:       admin,
		metrics:     p.Metrics,
	}
}

// SyncToAdmin exports the selected contingencies and uploads them. Transport
// and row problems end up in Result.Errors; the returned error is reserved for
// failures that stop the run before anything is sent.
func (s *Service) SyncToAdmin(ctx context.Context, req Request) (Result, error) {
	ctx, cid := correlation.EnsureCorrelationID(ctx)
	var result Result

	if _, err := s.ledger.RecoverStale(ctx); err != nil {
		return result, err
	}
	locationCode, err := s.reference.LocationCode(ctx)
	if err != nil {
		return result, err
	}

	// The event is stamped with the cutoff, so a contingency ending while this
	// run starts falls into the next run's window.
	cutoff := s.clock.Now()
	selection := contingencydomain.ListForPushRequest{ContingencyID: req.ContingencyID, All: req.All}
	if req.ContingencyID == 0 && !req.All {
		selection.Until = &cutoff
		last, err := s.ledger.FindLastSuccessful(ctx, syncdomain.TypePush, locationCode)
		if err != nil {
			return result, err
		}
		if last != nil {
			since := last.CreatedAt
			selection.Since = &since
		}
	}
	contingencies, err := s.contingency.ListForPush(ctx, selection)
	if err != nil {
		return result, err
	}
	result.Contingencies = len(contingencies)
	if len(contingencies) == 0 {
		s.log.Info("pushsync.nothing_to_sync", zap.String("location_code", locationCode))
		return result, nil
	}

	event, err := s.ledger.Begin(ctx, syncdomain.BeginRequest{
		Type:         syncdomain.TypePush,
		LocationCode: locationCode,
		CreatedByID:  req.UserID,
		CreatedAt:    cutoff,
	})
	if err != nil {
		return result, err
	}
	result.SyncEventID = event.ID

	log := s.log.With(
		zap.String("sync_event_id", event.ID.String()),
		zap.String("location_code", locationCode),
		zap.String("correlation_id", cid),
	)
	log.Info("pushsync.begin", zap.Int("contingencies", len(contingencies)))

	details := s.run(ctx, log, locationCode, contingencies, &result)
	details.Errors = result.Errors

	outcome := syncdomain.Outcome{Success: result.Ok(), Details: details}
	if !result.Ok() {
		outcome.Comment = fmt.Sprintf("%d error(s), first: %s", len(result.Errors), result.Errors[0])
	}
	if _, err := s.ledger.Complete(ctx, event.ID, outcome); err != nil {
		return result, err
	}

	log.Info("pushsync.done",
		zap.Bool("ok", result.Ok()),
		zap.Int("sales_synced", result.SalesSynced),
		zap.Int("payments_synced", result.PaymentsSynced),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (s *Service) run(ctx context.Context, log *zap.Logger, locationCode string, contingencies []contingencydomain.Contingency, result *Result) syncdomain.Details {
	details := syncdomain.Details{Batches: map[string]batch.Result{}}

	dir, err := os.MkdirTemp(s.tempDir, "possync-push-"+slug.Make(locationCode)+"-")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("create temp dir: %v", err))
		return details
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("pushsync.cleanup_failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	files, exported, err := s.export(ctx, dir, contingencies)
	for kind, res := range exported {
		details.Batches["export."+string(kind)] = res
		result.Errors = append(result.Errors, res.ErrorStrings(string(kind))...)
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("export: %v", err))
		return details
	}

	remoteID, err := s.admin.StartPush(ctx, locationCode)
	if err != nil {
		s.metrics.RecordFailure(string(syncdomain.TypePush), err)
		result.Errors = append(result.Errors, err.Error())
		return details
	}
	result.RemoteSyncID = remoteID

	transmitted := true
	for _, kind := range transfer.Kinds {
		resp, err := s.admin.Upload(ctx, remoteID, kind, files[kind])
		s.metrics.RecordTransmit(string(kind), err == nil)
		if err != nil {
			transmitted = false
			s.metrics.RecordFailure(string(syncdomain.TypePush), err)
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		count := 0
		if resp.Count != nil {
			count = *resp.Count
		}
		for _, e := range resp.Errors {
			result.Errors = append(result.Errors, string(kind)+" "+e)
		}
		switch kind {
		case transfer.KindContingencies:
			result.ContingenciesSynced = count
		case transfer.KindSales:
			result.SalesSynced = count
		case transfer.KindPayments:
			result.PaymentsSynced = count
		}
	}

	if transmitted {
		if err := s.admin.CompletePush(ctx, remoteID); err != nil {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	details.ContingenciesSynced = result.ContingenciesSynced
	details.SalesSynced = result.SalesSynced
	details.PaymentsSynced = result.PaymentsSynced
	return details
}

// export writes one file per kind into dir.
func (s *Service) export(ctx context.Context, dir string, contingencies []contingencydomain.Contingency) (map[transfer.Kind]string, map[transfer.Kind]batch.Result, error) {
	files := make(map[transfer.Kind]string, len(transfer.Kinds))
	results := make(map[transfer.Kind]batch.Result, len(transfer.Kinds))
	ids := make([]snowflake.ID, 0, len(contingencies))
	for _, c := range contingencies {
		ids = append(ids, c.ID)
	}

	for _, kind := range transfer.Kinds {
		path := filepath.Join(dir, kind.FileName())
		res, err := s.exportKind(ctx, path, kind, contingencies, ids)
		results[kind] = res
		if err != nil {
			return files, results, fmt.Errorf("%s: %w", kind, err)
		}
		files[kind] = path
		s.metrics.AddRows("export."+string(kind), obsmetrics.RowOutcomeProcessed, res.Processed)
		s.metrics.AddRows("export."+string(kind), obsmetrics.RowOutcomeFailed, res.Failed())
	}
	return files, results, nil
}

func (s *Service) exportKind(ctx context.Context, path string, kind transfer.Kind, contingencies []contingencydomain.Contingency, ids []snowflake.ID) (res batch.Result, err error) {
	file, err := os.Create(path)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := transfer.NewWriter(file, kind.Header())
	if err != nil {
		return res, err
	}

	write := func(key string, record []string) {
		if err := w.Write(record); err != nil {
			res.Fail(0, key, err)
			return
		}
		res.Ok()
	}

	switch kind {
	case transfer.KindContingencies:
		for _, c := range contingencies {
			write(c.ID.String(), transfer.ContingencyRowFrom(c).Record())
		}
	case transfer.KindSales:
		err = s.sales.ExportSales(ctx, ids, func(rows []salesdomain.Sale) error {
			for _, sale := range rows {
				row, rowErr := transfer.SaleRowFrom(sale)
				if rowErr != nil {
					res.Fail(0, sale.Folio, rowErr)
					continue
				}
				write(sale.Folio, row.Record())
			}
			return nil
		})
	case transfer.KindPayments:
		err = s.sales.ExportPayments(ctx, ids, func(rows []salesdomain.Payment) error {
			for _, payment := range rows {
				write(payment.ID.String(), transfer.PaymentRowFrom(payment).Record())
			}
			return nil
		})
	}
	if err != nil {
		return res, err
	}
	return res, w.Flush()
}
