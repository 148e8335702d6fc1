package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/roach88/cdv/internal/archive"
	"github.com/roach88/cdv/internal/engine"
	"github.com/roach88/cdv/internal/model"
	"github.com/roach88/cdv/internal/scheduler"
)

const maxBodyBytes = 64 << 10

// certificateView is the public body of GET /certificates/{id}.
type certificateView struct {
	CertificateID      string           `json:"certificate_id"`
	Number             string           `json:"number,omitempty"`
	Valid              bool             `json:"valid"`
	Reason             engine.Reason    `json:"reason"`
	QuantitiesSnapshot model.Quantities `json:"quantities_snapshot"`
	CO2Kg              decimal.Decimal  `json:"co2_kg"`
	InvestorName       string           `json:"investor_name,omitempty"`
	InvestorTaxID      string           `json:"investor_tax_id,omitempty"`
	IssuedAt           time.Time        `json:"issued_at"`
	QRPayload          string           `json:"qr_payload,omitempty"`
	PublicLink         string           `json:"public_link,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().DB().PingContext(r.Context()); err != nil {
		writeProblem(w, r, http.StatusServiceUnavailable, string(engine.ErrCodeStorageUnavailable), "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getCertificate answers 404 for unknown ids and 200 with valid=false for
// tampered or revoked certificates.
func (s *Server) getCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, _ := s.engine.Validate(r.Context(), id)
	s.metrics.validations.WithLabelValues(string(sum.Reason)).Inc()

	switch sum.Reason {
	case engine.ReasonNotFound:
		writeProblem(w, r, http.StatusNotFound, string(engine.ErrCodeNotFound), fmt.Sprintf("certificate %s not found", id))
		return
	case engine.ReasonUnavailable:
		w.Header().Set("Retry-After", "5")
		writeProblem(w, r, http.StatusServiceUnavailable, string(engine.ErrCodeStorageUnavailable), "validation temporarily unavailable")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, certificateView{
		CertificateID:      sum.CertificateID,
		Number:             sum.Number,
		Valid:              sum.Valid,
		Reason:             sum.Reason,
		QuantitiesSnapshot: sum.Quantities,
		CO2Kg:              sum.CO2Kg,
		InvestorName:       sum.InvestorName,
		InvestorTaxID:      sum.InvestorTaxID,
		IssuedAt:           sum.IssuedAt,
		QRPayload:          sum.QRPayload,
		PublicLink:         sum.PublicLink,
	})
}

func (s *Server) getCertificateQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sum, _ := s.engine.Validate(r.Context(), id)
	switch {
	case sum.Reason == engine.ReasonUnavailable:
		w.Header().Set("Retry-After", "5")
		writeProblem(w, r, http.StatusServiceUnavailable, string(engine.ErrCodeStorageUnavailable), "validation temporarily unavailable")
		return
	case sum.QRPayload == "":
		writeProblem(w, r, http.StatusNotFound, string(engine.ErrCodeNotFound), fmt.Sprintf("certificate %s not found", id))
		return
	}

	png, err := archive.QRCode(sum.QRPayload, archive.QRSize)
	if err != nil {
		writeInternal(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type emitRequest struct {
	Type       string `json:"type"`
	Quantity   string `json:"quantity"`
	Subtype    string `json:"subtype"`
	ProjectID  string `json:"project_id"`
	OriginRef  string `json:"origin_ref"`
	OccurredAt string `json:"occurred_at"`
}

type emitResponse struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// postImpactEvent answers 201 for a new event and 200 when origin_ref was
// already recorded.
func (s *Server) postImpactEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeBadRequest(w, r, "request body too large or unreadable")
		return
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	err = dec.Decode(&doc)
	if err == nil {
		if _, terr := dec.Token(); terr != io.EOF {
			err = errors.New("trailing data after JSON value")
		}
	}
	if err != nil {
		writeBadRequest(w, r, "malformed JSON")
		return
	}
	if err := s.eventSchema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			writeProblem(w, r, http.StatusBadRequest, string(engine.ErrCodeInvalidEvent), verr.Error())
			return
		}
		writeProblem(w, r, http.StatusBadRequest, string(engine.ErrCodeInvalidEvent), err.Error())
		return
	}

	var req emitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeBadRequest(w, r, "malformed JSON")
		return
	}
	occurred, err := time.Parse(time.RFC3339Nano, req.OccurredAt)
	if err != nil {
		writeProblem(w, r, http.StatusBadRequest, string(engine.ErrCodeInvalidEvent), "occurred_at must be RFC 3339")
		return
	}

	id, created, err := s.engine.EmitImpactEvent(r.Context(), engine.EmitRequest{
		Type:       req.Type,
		Quantity:   req.Quantity,
		Subtype:    req.Subtype,
		ProjectID:  req.ProjectID,
		OriginRef:  req.OriginRef,
		OccurredAt: occurred,
	})
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, emitResponse{ID: id, Created: created})
}

type issueRequest struct {
	Mode string `json:"mode"`
}

// issueCertificate lets an investor certify their own quota; admins may
// certify any quota.
func (s *Server) issueCertificate(w http.ResponseWriter, r *http.Request) {
	quotaID := chi.URLParam(r, "id")
	p, _ := PrincipalFromContext(r.Context())

	var req issueRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = "quota"
	}
	if req.Mode != "quota" && req.Mode != "uib" {
		writeBadRequest(w, r, fmt.Sprintf("mode must be quota or uib, got %q", req.Mode))
		return
	}

	if !p.HasAnyRole(RoleAdmin) {
		q, err := s.engine.Store().GetQuota(r.Context(), quotaID)
		if err != nil {
			// Hide existence of other investors' quotas.
			writeForbidden(w, r, "quota is not owned by the caller")
			return
		}
		if p.InvestorID == "" || q.InvestorID != p.InvestorID {
			writeForbidden(w, r, "quota is not owned by the caller")
			return
		}
	}

	var cert model.Certificate
	var err error
	if req.Mode == "uib" {
		cert, err = s.engine.IssueFromUIBs(r.Context(), quotaID, p.Subject)
	} else {
		cert, err = s.engine.Issue(r.Context(), quotaID, p.Subject)
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/certificates/"+cert.ID)
	writeJSON(w, http.StatusCreated, cert)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) revokeCertificate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, _ := PrincipalFromContext(r.Context())

	var req revokeRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	rev, err := s.engine.Revoke(r.Context(), id, p.Subject, req.Reason)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.jobs == nil {
		writeProblem(w, r, http.StatusNotFound, string(engine.ErrCodeNotFound), "no jobs configured")
		return
	}
	out, err := s.jobs.RunOnce(r.Context(), name)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeProblem(w, r, http.StatusNotFound, string(engine.ErrCodeNotFound), fmt.Sprintf("unknown job %q", name))
		return
	}
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if !out.Ran {
		writeJSON(w, http.StatusAccepted, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// decodeOptionalBody decodes a JSON object, treating an empty body as {}.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	return nil
}
