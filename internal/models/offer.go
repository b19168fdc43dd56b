package models

import (
	"time"

	"funding-workflow/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferCountered OfferStatus = "countered"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
)

type OfferDecision string

const (
	DecisionAccept  OfferDecision = "accept"
	DecisionReject  OfferDecision = "reject"
	DecisionCounter OfferDecision = "counter"
)

// Party is the side of a negotiation that proposed an offer.
type Party string

const (
	PartySME    Party = "sme"
	PartyLender Party = "lender"
)

// OfferTerms are the negotiable terms. Amount is in minor currency units.
type OfferTerms struct {
	Amount       int64   `json:"amount"`
	InterestRate float64 `json:"interestRate"`
	TenureMonths int     `json:"tenureMonths"`
	Message      string  `json:"message,omitempty"`
}

func (t OfferTerms) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&t.InterestRate, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&t.TenureMonths, validation.Required, validation.Min(1), validation.Max(120)),
		validation.Field(&t.Message, validation.Length(0, 2000)),
	)
}

type Offer struct {
	store.Versioned
	OfferID          string `json:"offerId"`
	FundingRequestID string `json:"fundingRequestId"`
	SMEID            string `json:"smeId"`
	LenderID         string `json:"lenderId"`
	OfferTerms
	Status        OfferStatus `json:"status"`
	ProposedBy    Party       `json:"proposedBy"`
	ParentOfferID string      `json:"parentOfferId,omitempty"`
	Round         int         `json:"round"`
	LoanID        string      `json:"loanId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// IsFinal reports whether the offer can no longer change.
func (o *Offer) IsFinal() bool {
	return o.Status != OfferPending
}

type OfferAction string

const (
	ActionSubmitted OfferAction = "submitted"
	ActionCountered OfferAction = "countered"
	ActionAccepted  OfferAction = "accepted"
	ActionRejected  OfferAction = "rejected"
)

type OfferEvent struct {
	Sequence int         `json:"sequence"`
	OfferID  string      `json:"offerId"`
	LenderID string      `json:"lenderId"`
	Action   OfferAction `json:"action"`
	ActorID  string      `json:"actorId"`
	Role     string      `json:"role"`
	Terms    OfferTerms  `json:"terms"`
	At       time.Time   `json:"at"`
}

// OfferLog is the append-only negotiation history of one funding request.
type OfferLog struct {
	store.Versioned
	FundingRequestID string       `json:"fundingRequestId"`
	SMEID            string       `json:"smeId"`
	Events           []OfferEvent `json:"events"`
}

// Acceptance reserves a funding request for exactly one accepted offer.
type Acceptance struct {
	store.Versioned
	FundingRequestID string    `json:"fundingRequestId"`
	SMEID            string    `json:"smeId"`
	LenderID         string    `json:"lenderId"`
	OfferID          string    `json:"offerId"`
	LoanID           string    `json:"loanId"`
	AcceptedAt       time.Time `json:"acceptedAt"`
}
