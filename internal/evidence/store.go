// Package evidence keeps the append-only list of evidence references attached
// to a verification session or an escrow milestone.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/models"
	"funding-workflow/internal/store"
)

const keyPrefix = "evidence"

type Store struct {
	repo   *store.Repository[models.EvidenceBundle, *models.EvidenceBundle]
	logger logger.Logger
	now    func() time.Time
}

func NewStore(kv store.KV, maxRetries int, log logger.Logger) *Store {
	return &Store{
		repo:   store.NewRepository[models.EvidenceBundle](kv, keyPrefix, "evidence_bundle", maxRetries),
		logger: log.WithFields(map[string]interface{}{"component": "evidence"}),
		now:    time.Now,
	}
}

// Fingerprint is the hex SHA-256 of the JSON encoding of ref.
func Fingerprint(ref models.EvidenceRef) (string, error) {
	data, err := json.Marshal(ref)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateRefs checks that every reference is addressable and labelled.
func ValidateRefs(refs []models.EvidenceRef) error {
	var fields []apperrors.FieldError
	for i, ref := range refs {
		prefix := fmt.Sprintf("evidence[%d]", i)
		if ref.EvidenceID == "" {
			fields = append(fields, apperrors.FieldError{Field: prefix + ".evidenceId", Message: "is required", Code: "required"})
		}
		if ref.Label == "" {
			fields = append(fields, apperrors.FieldError{Field: prefix + ".label", Message: "is required", Code: "required"})
		}
		if ref.URI == "" {
			fields = append(fields, apperrors.FieldError{Field: prefix + ".uri", Message: "is required", Code: "required"})
		}
		switch ref.Kind {
		case models.EvidenceDocument, models.EvidenceVideo, models.EvidenceBankLink:
		default:
			fields = append(fields, apperrors.FieldError{Field: prefix + ".kind", Message: fmt.Sprintf("unknown kind %q", ref.Kind), Code: "enum"})
		}
	}
	if len(fields) > 0 {
		return apperrors.NewValidationError("invalid evidence references", fields)
	}
	return nil
}

func bundleID(kind models.OwnerKind, ownerID string) string {
	return string(kind) + "/" + ownerID
}

// Append records refs for the owner and returns the records that were newly
// added. Re-appending an identical reference is a no-op; reusing an evidence
// ID for different content fails with EVIDENCE_CONFLICT.
func (s *Store) Append(ctx context.Context, kind models.OwnerKind, ownerID string, refs []models.EvidenceRef, submittedBy string) ([]models.EvidenceRecord, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	incoming, err := prepare(refs, submittedBy)
	if err != nil {
		return nil, err
	}

	id := bundleID(kind, ownerID)
	var added []models.EvidenceRecord

	merge := func(b *models.EvidenceBundle) error {
		added = added[:0]
		existing := make(map[string]string, len(b.Records))
		for _, r := range b.Records {
			existing[r.Ref.EvidenceID] = r.Fingerprint
		}

		now := s.now().UTC()
		for _, rec := range incoming {
			if fp, ok := existing[rec.Ref.EvidenceID]; ok {
				if fp != rec.Fingerprint {
					return apperrors.NewEvidenceConflictError(rec.Ref.EvidenceID)
				}
				continue
			}
			rec.RecordedAt = now
			b.Records = append(b.Records, rec)
			added = append(added, rec)
		}
		if len(added) == 0 {
			return store.ErrSkipWrite
		}
		return nil
	}

	for {
		_, err := s.repo.Update(ctx, id, merge)
		if err == nil {
			break
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}

		bundle := &models.EvidenceBundle{OwnerKind: kind, OwnerID: ownerID}
		if err := merge(bundle); err != nil {
			return nil, err
		}
		err = s.repo.Create(ctx, id, bundle)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		// Another writer created the bundle first; merge into theirs.
	}

	if len(added) > 0 {
		s.logger.Info("Evidence appended", map[string]interface{}{
			"ownerKind": kind,
			"ownerId":   ownerID,
			"count":     len(added),
		})
	}
	return added, nil
}

// Check reports the error Append would return for refs without writing
// anything. Callers use it to reject evidence before committing the state
// change the evidence belongs to.
func (s *Store) Check(ctx context.Context, kind models.OwnerKind, ownerID string, refs []models.EvidenceRef) error {
	if len(refs) == 0 {
		return nil
	}
	incoming, err := prepare(refs, "")
	if err != nil {
		return err
	}

	existing, err := s.List(ctx, kind, ownerID)
	if err != nil {
		return err
	}
	stored := make(map[string]string, len(existing))
	for _, r := range existing {
		stored[r.Ref.EvidenceID] = r.Fingerprint
	}
	for _, rec := range incoming {
		if fp, ok := stored[rec.Ref.EvidenceID]; ok && fp != rec.Fingerprint {
			return apperrors.NewEvidenceConflictError(rec.Ref.EvidenceID)
		}
	}
	return nil
}

// prepare validates refs and fingerprints them, dropping repeats within the batch.
func prepare(refs []models.EvidenceRef, submittedBy string) ([]models.EvidenceRecord, error) {
	if err := ValidateRefs(refs); err != nil {
		return nil, err
	}

	incoming := make([]models.EvidenceRecord, 0, len(refs))
	seen := make(map[string]string, len(refs))
	for _, ref := range refs {
		fp, err := Fingerprint(ref)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		if prev, ok := seen[ref.EvidenceID]; ok {
			if prev != fp {
				return nil, apperrors.NewEvidenceConflictError(ref.EvidenceID)
			}
			continue
		}
		seen[ref.EvidenceID] = fp
		incoming = append(incoming, models.EvidenceRecord{Ref: ref, Fingerprint: fp, SubmittedBy: submittedBy})
	}
	return incoming, nil
}

// List returns the owner's evidence in append order.
func (s *Store) List(ctx context.Context, kind models.OwnerKind, ownerID string) ([]models.EvidenceRecord, error) {
	bundle, err := s.repo.Get(ctx, bundleID(kind, ownerID))
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return []models.EvidenceRecord{}, nil
		}
		return nil, err
	}
	return bundle.Records, nil
}
