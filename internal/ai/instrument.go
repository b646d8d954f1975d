package ai

import (
	"context"
	"time"
)

// CallRecorder receives one observation per provider round trip.
// *monitoring.Metrics satisfies it.
type CallRecorder interface {
	RecordProviderCall(provider string, d time.Duration, err error)
}

// Instrument wraps llm so every Generate and GenerateJSON call is timed
// and counted against the provider's name. A nil recorder returns llm
// unchanged.
func Instrument(llm LLM, rec CallRecorder) LLM {
	if rec == nil {
		return llm
	}
	return &instrumented{llm: llm, rec: rec}
}

type instrumented struct {
	llm LLM
	rec CallRecorder
}

func (i *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	answer, err := i.llm.Generate(ctx, prompt)
	i.rec.RecordProviderCall(i.llm.Name(), time.Since(start), err)
	return answer, err
}

func (i *instrumented) GenerateJSON(ctx context.Context, prompt string, out any) error {
	start := time.Now()
	err := i.llm.GenerateJSON(ctx, prompt, out)
	i.rec.RecordProviderCall(i.llm.Name(), time.Since(start), err)
	return err
}

func (i *instrumented) Name() string { return i.llm.Name() }
