package service

import (
	"errors"

	"github.com/dvrvsimi/openbook-dex/domain/instruction"
	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/domain/matching"
	"github.com/dvrvsimi/openbook-dex/domain/queue"
	"github.com/dvrvsimi/openbook-dex/infra/journal"
	"github.com/dvrvsimi/openbook-dex/infra/regionstore"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
	"github.com/dvrvsimi/openbook-dex/snapshot"
)

// Restore builds a service from durable state: the last persisted
// region image (or a fresh market when none exists), with journal
// records newer than the image replayed on top. It must run before the
// service accepts traffic.
func Restore(p market.Params, journalDir string, d Deps) (*MarketService, error) {
	var st *market.State
	var coveredSeq uint64

	seq, image, err := d.Store.Load(p.Market)
	switch {
	case err == nil:
		st, err = snapshot.Unmarshal(image)
		if err != nil {
			return nil, err
		}
		coveredSeq = seq
	case errors.Is(err, regionstore.ErrNotFound):
		st, err = market.NewState(p)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	r := &replayer{engine: matching.NewEngine(st), log: d.Log}
	lastSeq, err := journal.Replay(journalDir, coveredSeq, r.apply)
	if err != nil {
		return nil, err
	}
	d.Seq.Reset(lastSeq)
	d.Log.Info("journal replay complete",
		logger.NewField("covered_seq", coveredSeq),
		logger.NewField("last_seq", lastSeq))

	return New(r.engine.State(), d), nil
}

type replayer struct {
	engine *matching.Engine
	log    *logger.Logger
}

// apply re-executes one journaled operation. Journaled operations
// succeeded when first executed and the engine is deterministic, so a
// failing KindApply record means the journal does not match the image.
func (r *replayer) apply(rec *journal.Record) error {
	switch rec.Kind {
	case KindApply:
		ins, err := instruction.Decode(rec.Data)
		if err != nil {
			return err
		}
		return r.engine.Apply(ins)
	case KindSubmit:
		req, err := queue.NewRequest(rec.Data)
		if err != nil {
			return err
		}
		return r.engine.State().Requests.Push(req)
	case KindCrank:
		return r.crank()
	case KindCredit:
		slot, owner, base, quote, err := decodeCredit(rec.Data)
		if err != nil {
			return err
		}
		return r.engine.State().Credit(slot, owner, base, quote)
	default:
		return market.Statef("unknown journal record kind %d", rec.Kind)
	}
}

// crank mirrors the live crank: the pop is kept, a failed apply only
// rolls back its own effects.
func (r *replayer) crank() error {
	req, ok := r.engine.State().Requests.Pop()
	if !ok {
		return market.Statef("crank record with empty request queue")
	}
	checkpoint := snapshot.Marshal(r.engine.State())
	ins, err := instruction.Decode(req.Bytes())
	if err == nil {
		err = r.engine.Apply(ins)
	}
	if err != nil {
		st, uerr := snapshot.Unmarshal(checkpoint)
		if uerr != nil {
			return uerr
		}
		r.engine = matching.NewEngine(st)
		r.log.Warn("replayed request dropped", logger.NewField("error", err.Error()))
	}
	return nil
}
