package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/classify"
	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// Prober runs one check. It never fails: every problem is reported in the result.
type Prober interface {
	Probe(ctx context.Context, spec domain.TestSpec) domain.ProbeResult
}

// Executor is the transport surface the engine dispatches to.
type Executor interface {
	Transfer(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error)
	LookupDNS(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error)
	SubscribeMQTT(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error)
	CallREST(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error)
}

type mode func(x Executor, ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error)

var modes = map[target.Category]mode{
	target.CategoryWeb:  Executor.Transfer,
	target.CategoryMail: Executor.Transfer,
	target.CategoryLDAP: Executor.Transfer,
	target.CategoryFTP:  Executor.Transfer,
	target.CategorySMB:  Executor.Transfer,
	target.CategoryDNS:  dnsMode,
	target.CategoryMQTT: Executor.SubscribeMQTT,
	target.CategoryREST: Executor.CallREST,
}

// dnsMode sends DoH through the generic transfer; plain DNS is a resolver lookup.
func dnsMode(x Executor, ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error) {
	if tgt.Service == target.ServiceDoH {
		return x.Transfer(ctx, spec, tgt, probeID)
	}
	return x.LookupDNS(ctx, spec, tgt, probeID)
}

// Engine builds the target, dispatches by category and classifies the outcome.
// It keeps no state between calls.
type Engine struct {
	exec Executor
	log  *zap.Logger
	now  func() time.Time
}

func NewEngine(exec Executor, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{exec: exec, log: log, now: time.Now}
}

func (e *Engine) Probe(ctx context.Context, spec domain.TestSpec) (res domain.ProbeResult) {
	probeID := uuid.NewString()
	started := e.now().UTC()
	log := e.log.With(zap.Int("test_id", spec.ID), zap.String("probe_id", probeID), zap.String("type", spec.Type))

	defer func() {
		if r := recover(); r != nil {
			log.Error("probe_panic", zap.Any("panic", r), zap.Stack("stack"))
			res = classify.Classify(spec, domain.TransportOutcome{}, domain.Resource(fmt.Errorf("probe aborted: %v", r)))
		}
		res.ProbeID = probeID
		res.Timestamp = started
	}()

	log.Debug("probe_start")
	out, err := e.run(ctx, spec, probeID, log)
	res = classify.Classify(spec, out, err)

	log.Info("probe_done",
		zap.String("result", string(res.Result)),
		zap.String("result_search", string(res.ResultSearch)),
		zap.Int("code", res.ErrorCode),
		zap.Int("http_code", res.HTTPStatus),
		zap.Duration("total", res.Timing.Total),
		zap.String("error", res.ErrorMessage),
	)
	return res
}

func (e *Engine) run(ctx context.Context, spec domain.TestSpec, probeID string, log *zap.Logger) (domain.TransportOutcome, error) {
	tgt, err := target.Build(spec)
	if err != nil {
		log.Info("probe_invalid", zap.Error(err))
		return domain.TransportOutcome{}, err
	}
	m, ok := modes[tgt.Category]
	if !ok {
		return domain.TransportOutcome{}, domain.Validation(domain.ErrUnsupportedType)
	}
	log.Debug("probe_final_url", zap.String("url", tgt.Redacted()))
	return m(e.exec, ctx, spec, tgt, probeID)
}
