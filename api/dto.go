/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupling the
  domain types from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

// BalanceDTO is the current ledger balance of one user.
type BalanceDTO struct {
	User    string          `json:"user"`
	Balance decimal.Decimal `json:"balance"`
}

// ChangeBalanceRequest asks for one ledger mutation.
type ChangeBalanceRequest struct {
	Op     string          `json:"op"` // "increment" or "set"
	Amount decimal.Decimal `json:"amount"`
}

// ChangeBalanceDTO reports the applied mutation.
type ChangeBalanceDTO struct {
	User     string          `json:"user"`
	Op       string          `json:"op"`
	Amount   decimal.Decimal `json:"amount"`
	Previous decimal.Decimal `json:"previous"`
	New      decimal.Decimal `json:"new"`
}

// =============================================================================
// HISTORY
// =============================================================================

// HistoryLineDTO is one mutation record with its running totals.
type HistoryLineDTO struct {
	ID     string          `json:"id"`
	At     time.Time       `json:"at"`
	Actor  string          `json:"actor"`
	Op     string          `json:"op"`
	Amount decimal.Decimal `json:"amount"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

type HistoryDTO struct {
	User  string           `json:"user"`
	Lines []HistoryLineDTO `json:"lines"`
}

// =============================================================================
// GROUPS
// =============================================================================

// SetGrantRequest configures a group's grant.
type SetGrantRequest struct {
	Grant string `json:"grant"`
}

// ReconfigureDTO reports the outcome of a group reconfiguration.
type ReconfigureDTO struct {
	Group       string `json:"group"`
	Grant       string `json:"grant,omitempty"`
	Previous    string `json:"previous,omitempty"`
	HadPrevious bool   `json:"had_previous"`
	// Changed is false for no-op reconfigurations ("already set").
	Changed bool `json:"changed"`
}

// GroupConfigDTO is one group's configured grant.
type GroupConfigDTO struct {
	Group string `json:"group"`
	Grant string `json:"grant"`
}

// =============================================================================
// ADMINS
// =============================================================================

// AdminDTO reports an allowlist mutation.
type AdminDTO struct {
	User string `json:"user"`
	// Changed is false when the user already had (or lacked) the entry.
	Changed bool `json:"changed"`
	Admin   bool `json:"admin"`
}

// =============================================================================
// INGEST & MEMBERSHIP EVENTS
// =============================================================================

// IngestDonationRequest is an automated donation notification. Amount
// is optional; absent means the default donation amount.
type IngestDonationRequest struct {
	User   string           `json:"user"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// MembershipEventRequest reports a user joining or leaving a group.
type MembershipEventRequest struct {
	Group string `json:"group"`
	User  string `json:"user"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorDTO is the JSON error reply shape.
type ErrorDTO struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
