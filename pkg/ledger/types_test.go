package ledger

import (
	"errors"
	"testing"
)

func TestNewAccountID(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " reseller-123 ", wantVal: "reseller-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidAccountID},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewAccountID(testCase.input)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result.String() != testCase.wantVal {
				test.Fatalf(errorMismatchMessage, testCase.wantVal, result.String())
			}
		})
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid object", input: `{"key":"value"}`, wantVal: `{"key":"value"}`},
		{name: "empty defaults to object", input: "", wantVal: "{}"},
		{name: "whitespace defaults to object", input: "   ", wantVal: "{}"},
		{name: "invalid json", input: "{broken", wantErr: ErrInvalidMetadataJSON},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewMetadataJSON(testCase.input)
			if testCase.wantErr != nil {
				if !errors.Is(err, testCase.wantErr) {
					test.Fatalf(errorMismatchMessage, testCase.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result.String() != testCase.wantVal {
				test.Fatalf(errorMismatchMessage, testCase.wantVal, result.String())
			}
		})
	}
}

func TestParseEntryType(test *testing.T) {
	test.Parallel()
	for _, valid := range []string{"discount", "profit", "recharge", "adjustment"} {
		if _, err := ParseEntryType(valid); err != nil {
			test.Fatalf("expected %q to parse: %v", valid, err)
		}
	}
	if _, err := ParseEntryType("transfer"); !errors.Is(err, ErrInvalidEntryType) {
		test.Fatalf(errorMismatchMessage, ErrInvalidEntryType, err)
	}
}

func TestAccountDebtIsDerived(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name            string
		creditLimit     string
		availableCredit string
		balanceInFavor  string
		wantDebt        string
		wantSpendable   string
	}{
		{name: "no usage", creditLimit: "1000.00", availableCredit: "1000.00", balanceInFavor: "0.00", wantDebt: "0.00", wantSpendable: "1000.00"},
		{name: "credit in use", creditLimit: "1000.00", availableCredit: "430.00", balanceInFavor: "0.00", wantDebt: "570.00", wantSpendable: "430.00"},
		{name: "surplus offsets usage", creditLimit: "1000.00", availableCredit: "800.00", balanceInFavor: "300.00", wantDebt: "0.00", wantSpendable: "1100.00"},
		{name: "zero limit with surplus", creditLimit: "0.00", availableCredit: "0.00", balanceInFavor: "50.00", wantDebt: "0.00", wantSpendable: "50.00"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			account := Account{
				CreditLimit:     mustMoney(test, testCase.creditLimit),
				AvailableCredit: mustMoney(test, testCase.availableCredit),
				BalanceInFavor:  mustMoney(test, testCase.balanceInFavor),
			}
			assertAmount(test, "debt", mustMoney(test, testCase.wantDebt), account.Debt())
			assertAmount(test, "total spendable", mustMoney(test, testCase.wantSpendable), account.TotalSpendable())
		})
	}
}

func TestEntryDetailTypes(test *testing.T) {
	test.Parallel()
	details := []EntryDetail{
		DischargeDetail{},
		ProfitDetail{},
		RechargeDetail{},
		AdjustmentDetail{},
	}
	wantTypes := []EntryType{EntryDiscount, EntryProfit, EntryRecharge, EntryAdjustment}
	for index, detail := range details {
		if detail.EntryType() != wantTypes[index] {
			test.Fatalf(errorMismatchMessage, wantTypes[index], detail.EntryType())
		}
	}
}
