package pgstore

import (
	"encoding/json"

	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
)

// detailPayload is the JSON shape of the per-type entry variant.
type detailPayload struct {
	Reference           string `json:"reference,omitempty"`
	ProfitRate          string `json:"profit_rate,omitempty"`
	DischargeEntryID    string `json:"discharge_entry_id,omitempty"`
	DebtPaid            string `json:"debt_paid,omitempty"`
	SurplusAdded        string `json:"surplus_added,omitempty"`
	Kind                string `json:"kind,omitempty"`
	Reason              string `json:"reason,omitempty"`
	PreviousCreditLimit string `json:"previous_credit_limit,omitempty"`
	NewCreditLimit      string `json:"new_credit_limit,omitempty"`
}

func encodeDetail(detail ledger.EntryDetail) (string, error) {
	var payload detailPayload
	switch value := detail.(type) {
	case ledger.DischargeDetail:
		payload = detailPayload{Reference: value.Reference, ProfitRate: value.ProfitRate.String()}
	case ledger.ProfitDetail:
		payload = detailPayload{DischargeEntryID: value.DischargeEntryID}
	case ledger.RechargeDetail:
		payload = detailPayload{DebtPaid: value.DebtPaid.String(), SurplusAdded: value.SurplusAdded.String()}
	case ledger.AdjustmentDetail:
		payload = detailPayload{
			Kind:                string(value.Kind),
			Reason:              value.Reason,
			PreviousCreditLimit: value.PreviousCreditLimit.String(),
			NewCreditLimit:      value.NewCreditLimit.String(),
		}
	default:
		return "", ledger.ErrInvalidEntryType
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeDetail(entryType ledger.EntryType, raw string) (ledger.EntryDetail, error) {
	var payload detailPayload
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, err
		}
	}
	switch entryType {
	case ledger.EntryDiscount:
		rate, err := money.NewRateFromString(orZero(payload.ProfitRate))
		if err != nil {
			return nil, err
		}
		return ledger.DischargeDetail{Reference: payload.Reference, ProfitRate: rate}, nil
	case ledger.EntryProfit:
		return ledger.ProfitDetail{DischargeEntryID: payload.DischargeEntryID}, nil
	case ledger.EntryRecharge:
		debtPaid, err := money.FromString(orZero(payload.DebtPaid))
		if err != nil {
			return nil, err
		}
		surplusAdded, err := money.FromString(orZero(payload.SurplusAdded))
		if err != nil {
			return nil, err
		}
		return ledger.RechargeDetail{DebtPaid: debtPaid, SurplusAdded: surplusAdded}, nil
	case ledger.EntryAdjustment:
		previousLimit, err := money.FromString(orZero(payload.PreviousCreditLimit))
		if err != nil {
			return nil, err
		}
		newLimit, err := money.FromString(orZero(payload.NewCreditLimit))
		if err != nil {
			return nil, err
		}
		return ledger.AdjustmentDetail{
			Kind:                ledger.AdjustmentKind(payload.Kind),
			Reason:              payload.Reason,
			PreviousCreditLimit: previousLimit,
			NewCreditLimit:      newLimit,
		}, nil
	}
	return nil, ledger.ErrInvalidEntryType
}

func orZero(raw string) string {
	if raw == "" {
		return "0"
	}
	return raw
}
