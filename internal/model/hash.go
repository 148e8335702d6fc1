package model

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content hashes.
// Version suffix enables future algorithm migration.
const (
	DomainCertificate = "cdv/certificate/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

type preimageQuantities struct {
	Kg      string `json:"kg"`
	Minutes string `json:"minutes"`
	Units   string `json:"units"`
}

type certificatePreimage struct {
	SequenceNo int64              `json:"sequence_no"`
	InvestorID string             `json:"investor_id"`
	ProjectID  string             `json:"project_id"`
	Quantities preimageQuantities `json:"quantities"`
	IssuedAt   string             `json:"issued_at"`
}

// CertificatePreimage returns the RFC 8785 canonical JSON that the
// validation hash covers: sequence number, investor id, project id,
// quantity snapshot and issuance time. Strings are NFC normalized and
// quantities are rendered as canonical decimal strings.
func CertificatePreimage(c Certificate) ([]byte, error) {
	kg, minutes, units := c.Quantities.Strings()
	pre := certificatePreimage{
		SequenceNo: c.SequenceNo,
		InvestorID: norm.NFC.String(c.Investor.ID),
		ProjectID:  norm.NFC.String(c.ProjectID),
		Quantities: preimageQuantities{Kg: kg, Minutes: minutes, Units: units},
		IssuedAt:   FormatTime(c.IssuedAt),
	}
	raw, err := json.Marshal(pre)
	if err != nil {
		return nil, fmt.Errorf("certificate preimage: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("certificate preimage: %w", err)
	}
	return canonical, nil
}

// CertificateHash computes the validation hash of a certificate.
func CertificateHash(c Certificate) (string, error) {
	pre, err := CertificatePreimage(c)
	if err != nil {
		return "", err
	}
	return hashWithDomain(DomainCertificate, pre), nil
}

// MustCertificateHash is like CertificateHash but panics on error.
// Use only with known-good input (tests, fixtures).
func MustCertificateHash(c Certificate) string {
	h, err := CertificateHash(c)
	if err != nil {
		panic(err)
	}
	return h
}

// VerifyCertificateHash recomputes the hash over the stored snapshot and
// compares it with ValidationHash in constant time.
func VerifyCertificateHash(c Certificate) bool {
	h, err := CertificateHash(c)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(h), []byte(c.ValidationHash)) == 1
}
