package features

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LabelEncoder maps observed string values to stable integer codes. Codes
// follow the sorted order of the distinct fitted values, so the same fitted
// vocabulary always produces the same encoding.
type LabelEncoder struct {
	classes []string
	codes   map[string]int
	policy  string

	// unknown counts reserved-bucket substitutions since fitting.
	unknown atomic.Int64
}

// FitEncoder builds an encoder over the distinct values in vs.
// policy is one of domain.UnknownReserve or domain.UnknownReject and
// controls how Encode treats values outside the fitted vocabulary.
func FitEncoder(vs []string, policy string) *LabelEncoder {
	seen := make(map[string]struct{}, len(vs))
	for _, v := range vs {
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Strings(classes)

	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		codes[c] = i
	}
	return &LabelEncoder{classes: classes, codes: codes, policy: policy}
}

// Encode returns the integer code for v. An unseen value either maps to the
// reserved bucket (code == vocabulary size) or fails, per the fitted policy.
func (e *LabelEncoder) Encode(v string) (int, error) {
	if code, ok := e.codes[v]; ok {
		return code, nil
	}
	if e.policy == domain.UnknownReject {
		return 0, fmt.Errorf("%w: %q", domain.ErrOutOfVocabulary, v)
	}
	e.unknown.Add(1)
	return len(e.classes), nil
}

// Classes returns the fitted vocabulary in code order.
func (e *LabelEncoder) Classes() []string { return e.classes }

// UnknownCount reports how many reserved-bucket substitutions Encode made.
func (e *LabelEncoder) UnknownCount() int64 { return e.unknown.Load() }

type encoderJSON struct {
	Classes []string `json:"classes"`
	Policy  string   `json:"policy"`
}

// MarshalJSON persists the vocabulary and policy; codes are derived.
func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Classes: e.classes, Policy: e.policy})
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var ej encoderJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return err
	}
	e.classes = ej.Classes
	e.policy = ej.Policy
	e.codes = make(map[string]int, len(ej.Classes))
	for i, c := range ej.Classes {
		e.codes[c] = i
	}
	return nil
}

// Encoders bundles the three categorical encoders the feature stage needs.
type Encoders struct {
	Category      *LabelEncoder `json:"category"`
	PaymentMethod *LabelEncoder `json:"paymentMethod"`
	Currency      *LabelEncoder `json:"currency"`
}

// FitEncoders fits all three encoders over the transaction set.
func FitEncoders(txs []*domain.Transaction, policy string) *Encoders {
	cats := make([]string, len(txs))
	pms := make([]string, len(txs))
	curs := make([]string, len(txs))
	for i, tx := range txs {
		cats[i] = tx.Category
		pms[i] = tx.PaymentMethod
		curs[i] = tx.Currency
	}
	return &Encoders{
		Category:      FitEncoder(cats, policy),
		PaymentMethod: FitEncoder(pms, policy),
		Currency:      FitEncoder(curs, policy),
	}
}

// UnknownCount sums reserved-bucket substitutions across all encoders.
func (e *Encoders) UnknownCount() int64 {
	return e.Category.UnknownCount() + e.PaymentMethod.UnknownCount() + e.Currency.UnknownCount()
}
