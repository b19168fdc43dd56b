package escrow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"funding-workflow/internal/audit"
	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/evidence"
	"funding-workflow/internal/models"
	"funding-workflow/internal/notify"
	"funding-workflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sme    = auth.Principal{ActorID: "sme-1", Role: auth.RoleSME}
	lender = auth.Principal{ActorID: "lender-1", Role: auth.RoleLender}
)

type fixture struct {
	svc       *Service
	publisher *notify.MemoryPublisher
	audit     *audit.MemorySink
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	kv := store.NewMemoryKV()
	log := logger.NewTestLogger(t)
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 20
	}

	f := &fixture{publisher: &notify.MemoryPublisher{}, audit: audit.NewMemorySink()}
	svc, err := NewService(Dependencies{
		KV:        kv,
		Evidence:  evidence.NewStore(kv, cfg.MaxRetries, log),
		Publisher: f.publisher,
		Audit:     f.audit,
	}, cfg, log)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func acceptedOffer(amount int64) *models.Offer {
	return &models.Offer{
		OfferID:          "offer-1",
		FundingRequestID: "fr-1",
		SMEID:            "sme-1",
		LenderID:         "lender-1",
		OfferTerms:       models.OfferTerms{Amount: amount, InterestRate: 14, TenureMonths: 12},
		Status:           models.OfferAccepted,
	}
}

func fiveMillionPlan() []models.MilestonePlanItem {
	return []models.MilestonePlanItem{
		{Title: "Equipment purchase", Amount: 2_000_000, Requirements: []string{"invoices"}},
		{Title: "Inventory", Amount: 1_500_000, Requirements: []string{"invoices", "delivery_note"}},
		{Title: "Marketing", Amount: 1_000_000, Requirements: []string{"campaign_report"}},
		{Title: "Working capital", Amount: 500_000},
	}
}

func ref(id, label string) models.EvidenceRef {
	return models.EvidenceRef{EvidenceID: id, Label: label, Kind: models.EvidenceDocument, URI: "blob://" + id}
}

func assertTotals(t *testing.T, l *models.EscrowLedger) {
	t.Helper()
	assert.Equal(t, l.TotalAmount, l.ReleasedAmount+l.PendingAmount)
	assert.NoError(t, l.Validate(0))
}

func TestCreateLedger_SequentialPlan(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)

	assert.Equal(t, LoanIDFor("offer-1"), ledger.LoanID)
	assert.Equal(t, int64(5_000_000), ledger.TotalAmount)
	assert.Equal(t, int64(0), ledger.ReleasedAmount)
	assert.Equal(t, int64(5_000_000), ledger.PendingAmount)
	assert.Equal(t, models.UnlockSequential, ledger.UnlockPolicy)
	require.Len(t, ledger.Milestones, 4)
	assert.Equal(t, models.MilestonePendingEvidence, ledger.Milestones[0].Status)
	for _, m := range ledger.Milestones[1:] {
		assert.Equal(t, models.MilestoneUpcoming, m.Status)
	}
	assertTotals(t, ledger)

	again, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanID, again.LoanID)
	assert.Equal(t, ledger.Milestones[0].MilestoneID, again.Milestones[0].MilestoneID)
	assert.Len(t, f.audit.Events(auditEntity), 1)
}

func TestCreateLedger_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan()[:3])
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAmountMismatch))

	_, err = f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	_, err = f.svc.CreateLedger(ctx, acceptedOffer(0), []models.MilestonePlanItem{{Title: "Nothing", Amount: 0}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	pending := acceptedOffer(500_000)
	pending.Status = models.OfferPending
	_, err = f.svc.CreateLedger(ctx, pending, []models.MilestonePlanItem{{Title: "All", Amount: 500_000}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	_, err = f.svc.GetLedger(ctx, lender, LoanIDFor("offer-1"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestMilestoneLifecycle_FiveMillion(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID
	second := ledger.Milestones[1].MilestoneID

	ledger, m, err := f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "supplier invoices")
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingApproval, m.Status)
	assert.Equal(t, "supplier invoices", m.EvidenceNote)
	assert.Equal(t, 1, m.Submissions)
	assertTotals(t, ledger)

	ledger, m, err = f.svc.Decide(ctx, lender, first, models.MilestoneApprove, "")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneReleased, m.Status)
	assert.NotNil(t, m.ReleasedAt)
	assert.Equal(t, int64(2_000_000), ledger.ReleasedAmount)
	assert.Equal(t, int64(3_000_000), ledger.PendingAmount)
	assert.Equal(t, models.MilestonePendingEvidence, ledger.Milestones[1].Status)
	assert.Equal(t, models.MilestoneUpcoming, ledger.Milestones[2].Status)
	assertTotals(t, ledger)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventMilestoneReleased, events[0].Type)
	assert.Equal(t, first, events[0].Key)
	assert.Equal(t, int64(2_000_000), events[0].Payload["amount"])

	_, _, err = f.svc.Decide(ctx, lender, first, models.MilestoneApprove, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyReleased))

	ledger, err = f.svc.GetLedger(ctx, sme, ledger.LoanID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), ledger.ReleasedAmount)
	assert.Len(t, f.publisher.Events(), 1)

	_, _, err = f.svc.SubmitEvidence(ctx, sme, second, []models.EvidenceRef{ref("inv-2", "invoices")}, "")
	require.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequirements))
	stdErr, _ := apperrors.AsStandardError(err)
	assert.Equal(t, []string{"delivery_note"}, stdErr.Metadata["missing"])

	_, m, err = f.svc.GetMilestone(ctx, lender, second)
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingEvidence, m.Status)
}

func TestSubmitEvidence_UpcomingMilestone(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	third := ledger.Milestones[2].MilestoneID

	_, _, err = f.svc.SubmitEvidence(ctx, sme, third, []models.EvidenceRef{ref("rep-1", "campaign_report")}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	_, m, err := f.svc.GetMilestone(ctx, sme, third)
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneUpcoming, m.Status)
	assert.Empty(t, m.SubmittedEvidence)

	records, err := f.svc.MilestoneEvidence(ctx, sme, third)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecide_RejectThenResubmit(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "")
	require.NoError(t, err)

	ledger, m, err := f.svc.Decide(ctx, lender, first, models.MilestoneReject, "incomplete invoices")
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingEvidence, m.Status)
	assert.Equal(t, "incomplete invoices", m.LenderFeedback)
	assert.Equal(t, 1, m.Rejections)
	assert.Equal(t, int64(0), ledger.ReleasedAmount)
	assertTotals(t, ledger)
	assert.Empty(t, f.publisher.Events())

	_, m, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1b", "invoices")}, "complete set")
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingApproval, m.Status)
	assert.Equal(t, 2, m.Submissions)

	records, err := f.svc.MilestoneEvidence(ctx, lender, first)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSubmitEvidence_ConflictLeavesMilestoneUnchanged(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "")
	require.NoError(t, err)
	_, _, err = f.svc.Decide(ctx, lender, first, models.MilestoneReject, "illegible")
	require.NoError(t, err)

	changed := ref("inv-1", "invoices")
	changed.URI = "blob://inv-1-rescanned"
	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{changed}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEvidenceConflict))

	_, m, err := f.svc.GetMilestone(ctx, sme, first)
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingEvidence, m.Status)
	assert.Equal(t, 1, m.Submissions)
}

func TestSubmitEvidence_OnlyWinnerIsIndexed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID

	const submitters = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("inv-%d", i)
			if _, _, err := f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref(id, "invoices")}, ""); err == nil {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	records, err := f.svc.MilestoneEvidence(ctx, lender, first)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, winners[0], records[0].Ref.EvidenceID)
}

func TestDecide_ExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID
	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "")
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.svc.Decide(ctx, lender, first, models.MilestoneApprove, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyReleased), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)

	ledger, err = f.svc.GetLedger(ctx, lender, ledger.LoanID)
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), ledger.ReleasedAmount)
	assert.Len(t, f.publisher.Events(), 1)
}

func TestDecide_Authorization(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID

	_, _, err = f.svc.SubmitEvidence(ctx, lender, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, []models.EvidenceRef{ref("inv-1", "invoices")}, "")
	require.NoError(t, err)

	_, _, err = f.svc.Decide(ctx, sme, first, models.MilestoneApprove, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	other := auth.Principal{ActorID: "lender-2", Role: auth.RoleLender}
	_, _, err = f.svc.Decide(ctx, other, first, models.MilestoneApprove, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	_, err = f.svc.GetLedger(ctx, other, ledger.LoanID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	_, _, err = f.svc.Decide(ctx, lender, first, "maybe", "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))

	_, _, err = f.svc.Decide(ctx, lender, "missing", models.MilestoneApprove, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestParallelUnlockPolicy(t *testing.T) {
	f := newFixture(t, Config{UnlockPolicy: models.UnlockParallel})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	for _, m := range ledger.Milestones {
		assert.Equal(t, models.MilestonePendingEvidence, m.Status)
	}

	last := ledger.Milestones[3].MilestoneID
	_, _, err = f.svc.SubmitEvidence(ctx, sme, last, nil, "no requirements")
	require.NoError(t, err)
	ledger, _, err = f.svc.Decide(ctx, lender, last, models.MilestoneApprove, "")
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), ledger.ReleasedAmount)
	assertTotals(t, ledger)
}

func TestResubmissionCap(t *testing.T) {
	f := newFixture(t, Config{MaxResubmissions: 2})
	ctx := context.Background()

	ledger, err := f.svc.CreateLedger(ctx, acceptedOffer(5_000_000), fiveMillionPlan())
	require.NoError(t, err)
	first := ledger.Milestones[0].MilestoneID
	refs := []models.EvidenceRef{ref("inv-1", "invoices")}

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, refs, "")
	require.NoError(t, err)
	_, m, err := f.svc.Decide(ctx, lender, first, models.MilestoneReject, "blurry")
	require.NoError(t, err)
	assert.Equal(t, models.MilestonePendingEvidence, m.Status)

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, refs, "")
	require.NoError(t, err)
	ledger, m, err = f.svc.Decide(ctx, lender, first, models.MilestoneReject, "still blurry")
	require.NoError(t, err)
	assert.Equal(t, models.MilestoneRejected, m.Status)
	assertTotals(t, ledger)

	_, _, err = f.svc.SubmitEvidence(ctx, sme, first, refs, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeResubmissionExceeded))

	_, _, err = f.svc.Decide(ctx, lender, first, models.MilestoneApprove, "")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestNewService_RejectsUnknownPolicy(t *testing.T) {
	kv := store.NewMemoryKV()
	log := logger.NewNoOpLogger()
	_, err := NewService(Dependencies{KV: kv, Evidence: evidence.NewStore(kv, 3, log)}, Config{UnlockPolicy: "random"}, log)
	assert.Error(t, err)
}
