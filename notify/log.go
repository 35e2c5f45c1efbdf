// Package notify provides Auditor implementations for the donor engine.
//
// Audit emission is fire-and-forget everywhere it is called: the engine
// discards emission errors, so implementations here only need to make a
// reasonable delivery attempt.
package notify

import (
	"context"
	"log"

	"github.com/pledge/donor-engine/donor"
)

// LogAuditor writes audit lines to the process log. The default sink
// when no external audit channel is configured.
type LogAuditor struct {
	// Prefix is prepended to every line, e.g. "[-] ".
	Prefix string
}

var _ donor.Auditor = (*LogAuditor)(nil)

func (a *LogAuditor) Emit(_ context.Context, line string) error {
	log.Printf("audit: %s%s", a.Prefix, line)
	return nil
}
