// internal/workers/negotiation/submit-offer/models.go
package submitoffer

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	SMEID            string `json:"smeId"`
	LenderID         string `json:"lenderId,omitempty"`
	FundingRequestID string `json:"fundingRequestId"`
	models.OfferTerms
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid offer submission", ozzo.ValidateStruct(i,
		ozzo.Field(&i.SMEID, ozzo.Required),
		ozzo.Field(&i.FundingRequestID, ozzo.Required),
	))
}

type Output struct {
	OfferID     string             `json:"offerId"`
	OfferStatus models.OfferStatus `json:"offerStatus"`
	Round       int                `json:"round"`
	Offer       *models.Offer      `json:"offer"`
}
