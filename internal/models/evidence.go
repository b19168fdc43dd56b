package models

import (
	"time"

	"funding-workflow/internal/store"
)

// EvidenceKind classifies an externally stored artifact.
type EvidenceKind string

const (
	EvidenceDocument EvidenceKind = "document"
	EvidenceVideo    EvidenceKind = "video"
	EvidenceBankLink EvidenceKind = "bank_link"
)

// EvidenceRef points at an artifact held by the external blob store. Label is
// the requirement it satisfies; raw bytes are never held here.
type EvidenceRef struct {
	EvidenceID string       `json:"evidenceId"`
	Label      string       `json:"label"`
	Kind       EvidenceKind `json:"kind"`
	URI        string       `json:"uri"`
}

// OwnerKind names the entity an evidence bundle is attached to.
type OwnerKind string

const (
	OwnerSession   OwnerKind = "session"
	OwnerMilestone OwnerKind = "milestone"
)

type EvidenceRecord struct {
	Ref         EvidenceRef `json:"ref"`
	Fingerprint string      `json:"fingerprint"`
	SubmittedBy string      `json:"submittedBy"`
	RecordedAt  time.Time   `json:"recordedAt"`
}

// EvidenceBundle is the append-only evidence list of one owner.
type EvidenceBundle struct {
	store.Versioned
	OwnerKind OwnerKind        `json:"ownerKind"`
	OwnerID   string           `json:"ownerId"`
	Records   []EvidenceRecord `json:"records"`
}
