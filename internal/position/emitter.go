package position

import (
	"fmt"

	"github.com/fusionalpha/fusion-engine/internal/observ"
	"github.com/fusionalpha/fusion-engine/internal/outbox"
)

// Emitter fans a finished signal out to the structured log, the outbox,
// and metrics. Re-emitting an identical signal inside the outbox dedupe
// window is a no-op.
type Emitter struct {
	outbox *outbox.Outbox
}

func NewEmitter(ob *outbox.Outbox) *Emitter {
	return &Emitter{outbox: ob}
}

func (e *Emitter) Emit(sig Signal) error {
	observ.Log("signal", map[string]any{
		"id":             sig.ID,
		"ticker":         sig.Ticker,
		"direction":      string(sig.Direction),
		"final_size":     sig.FinalSize,
		"leverage_mult":  sig.LeverageMult,
		"expert":         sig.Audit.Decision.ExpertUsed,
		"classification": string(sig.Audit.Event.Classification),
		"confidence":     sig.Audit.Event.Confidence,
	})
	observ.IncCounter("signals_emitted_total", map[string]string{
		"ticker":    sig.Ticker,
		"direction": string(sig.Direction),
	})

	if e.outbox == nil {
		return nil
	}
	dup, err := e.outbox.HasRecent(sig.ID)
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if dup {
		observ.IncCounter("signals_deduped_total", map[string]string{"ticker": sig.Ticker})
		return nil
	}
	if err := e.outbox.WriteSignal(sig.ID, sig); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return nil
}
