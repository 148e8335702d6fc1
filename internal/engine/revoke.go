package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/store"
)

// Revoke marks a certificate invalid and appends who did it and why.
// The certificate snapshot itself is never modified.
func (e *Engine) Revoke(ctx context.Context, certificateID, actor, reason string) (model.Revocation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return model.Revocation{}, &EngineError{
			Kind: KindValidation, Code: ErrCodeInvalidRequest,
			Message: "revocation reason is required", CertificateID: certificateID,
		}
	}

	rev := model.Revocation{
		CertificateID: certificateID,
		Actor:         actor,
		Reason:        reason,
		RevokedAt:     e.clock.Now(),
	}
	err := e.store.RevokeCertificate(ctx, e.ids.Generate(), rev)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return model.Revocation{}, NewNotFoundError("certificate", certificateID, err)
	case errors.Is(err, store.ErrStaleState):
		return model.Revocation{}, &EngineError{
			Kind: KindState, Code: ErrCodeAlreadyRevoked,
			Message: "certificate already revoked", CertificateID: certificateID, Err: err,
		}
	default:
		return model.Revocation{}, classifyStoreError("revoke certificate", err)
	}

	e.logger.Info("certificate revoked", "certificate_id", certificateID, "actor", actor, "reason", reason)
	return rev, nil
}
