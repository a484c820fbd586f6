package reputation

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/proof/dleq"
	"go.dedis.ch/kyber/v4/suites"
)

// EligibilityProof decides whether a piece of feedback earns the feedback
// bonus. Implementations must be deterministic in the feedback they are given.
type EligibilityProof interface {
	Check(feedback []string) bool
}

// NonEmptyFeedback accepts any non-empty feedback.
type NonEmptyFeedback struct{}

func (NonEmptyFeedback) Check(feedback []string) bool {
	return len(feedback) > 0
}

// tokenPrefix marks feedback entries carrying an eligibility proof.
const tokenPrefix = "dleq:"

var suite = suites.MustFind("Ed25519")

// secondBase is the fixed generator H against which credentials are proven.
// Nobody knows its discrete log with respect to the base point.
var secondBase = suite.Point().Pick(suite.XOF([]byte("meshledger eligibility base")))

// DLEQEligibility accepts feedback that carries a discrete log equality
// proof for one of the issued credentials. A credential is a public point
// X = xG; the proof shows knowledge of x such that X = xG and Y = xH.
type DLEQEligibility struct {
	issued map[string]struct{}
}

// NewDLEQEligibility accepts proofs for the given credentials.
func NewDLEQEligibility(credentials ...kyber.Point) *DLEQEligibility {
	e := &DLEQEligibility{issued: make(map[string]struct{}, len(credentials))}
	for _, c := range credentials {
		e.issued[c.String()] = struct{}{}
	}
	return e
}

// ParseCredential decodes a hex encoded credential point.
func ParseCredential(s string) (kyber.Point, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid credential encoding: %w", err)
	}
	p := suite.Point()
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("invalid credential point: %w", err)
	}
	return p, nil
}

// IssueCredential creates a new secret and its public credential.
func IssueCredential() (kyber.Scalar, kyber.Point) {
	x := suite.Scalar().Pick(suite.RandomStream())
	return x, suite.Point().Mul(x, nil)
}

// ProveEligibility builds a feedback token proving knowledge of secret.
func ProveEligibility(secret kyber.Scalar) (string, error) {
	proof, xG, xH, err := dleq.NewDLEQProof(suite, suite.Point().Base(), secondBase, secret)
	if err != nil {
		return "", fmt.Errorf("failed to create eligibility proof: %w", err)
	}
	var buf []byte
	for _, m := range []kyber.Marshaling{xG, xH, proof.C, proof.R, proof.VG, proof.VH} {
		data, err := m.MarshalBinary()
		if err != nil {
			return "", err
		}
		buf = append(buf, data...)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Check accepts the feedback if any entry is a valid proof for an issued
// credential.
func (e *DLEQEligibility) Check(feedback []string) bool {
	for _, entry := range feedback {
		if err := e.verify(entry); err == nil {
			return true
		}
	}
	return false
}

func (e *DLEQEligibility) verify(token string) error {
	encoded, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return errors.New("not an eligibility token")
	}
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	pl, sl := suite.PointLen(), suite.ScalarLen()
	if len(data) != 4*pl+2*sl {
		return fmt.Errorf("token of %d bytes", len(data))
	}

	xG, xH := suite.Point(), suite.Point()
	proof := &dleq.Proof{C: suite.Scalar(), R: suite.Scalar(), VG: suite.Point(), VH: suite.Point()}
	fields := []kyber.Marshaling{xG, xH, proof.C, proof.R, proof.VG, proof.VH}
	offset := 0
	for _, f := range fields {
		n := f.MarshalSize()
		if err := f.UnmarshalBinary(data[offset : offset+n]); err != nil {
			return err
		}
		offset += n
	}

	if _, ok := e.issued[xG.String()]; !ok {
		return errors.New("credential was not issued")
	}
	return proof.Verify(suite, suite.Point().Base(), secondBase, xG, xH)
}
