// internal/workers/negotiation/respond-offer/models.go
package respondoffer

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/negotiation"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	OfferID       string                     `json:"offerId"`
	Decision      models.OfferDecision       `json:"decision"`
	CounterTerms  *models.OfferTerms         `json:"counterTerms,omitempty"`
	MilestonePlan []models.MilestonePlanItem `json:"milestonePlan,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid offer response", ozzo.ValidateStruct(i,
		ozzo.Field(&i.OfferID, ozzo.Required),
		ozzo.Field(&i.Decision, ozzo.Required, ozzo.In(models.DecisionAccept, models.DecisionReject, models.DecisionCounter)),
		ozzo.Field(&i.CounterTerms, ozzo.Required.When(i.Decision == models.DecisionCounter), ozzo.Nil.When(i.Decision != models.DecisionCounter)),
		ozzo.Field(&i.MilestonePlan, ozzo.Empty.When(i.Decision != models.DecisionAccept)),
	))
}

type Output struct {
	OfferID        string                `json:"offerId"`
	OfferStatus    models.OfferStatus    `json:"offerStatus"`
	CounterOfferID string                `json:"counterOfferId,omitempty"`
	LoanID         string                `json:"loanId,omitempty"`
	Result         *negotiation.Response `json:"result"`
}
