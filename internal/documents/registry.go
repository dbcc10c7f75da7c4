package documents

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/agriops/agriledger/internal/ledger"
)

var factories = map[ledger.SourceType]func() Document{
	ledger.SourceGoodsReceipt:    func() Document { return &GoodsReceipt{} },
	ledger.SourceSale:            func() Document { return &Sale{} },
	ledger.SourcePayment:         func() Document { return &Payment{} },
	ledger.SourceCreditNote:      func() Document { return &CreditNote{} },
	ledger.SourceCropSettlement:  func() Document { return &CropSettlement{} },
	ledger.SourceHarvest:         func() Document { return &Harvest{} },
	ledger.SourceMachineryCharge: func() Document { return &MachineryCharge{} },
	ledger.SourceLeaseAccrual:    func() Document { return &LeaseAccrual{} },
}

// Kinds lists the source types that can be decoded.
func Kinds() []ledger.SourceType {
	out := make([]ledger.SourceType, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decoder turns a kind tag and JSON body into a validated Document.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder constructs a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{validate: validator.New()}
}

// Decode parses raw as the document variant registered for kind.
func (d *Decoder) Decode(kind ledger.SourceType, raw json.RawMessage) (Document, error) {
	factory, ok := factories[ledger.SourceType(strings.ToUpper(string(kind)))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDocument, kind)
	}
	doc := factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, err)
	}
	if err := d.validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, describe(err))
	}
	return doc, nil
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
