package common

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestIsLedger(t *testing.T) {
	base := NewLedgerErr(InvalidBlock, "bad link")

	if !IsLedger(base, InvalidBlock) {
		t.Fatalf("base error should be InvalidBlock")
	}
	if IsLedger(base, InvalidChain) {
		t.Fatalf("base error should not be InvalidChain")
	}

	wrapped := errors.Wrap(base, "appending block")
	if !IsLedger(wrapped, InvalidBlock) {
		t.Fatalf("pkg/errors wrapping should be seen through")
	}

	nested := WrapLedgerErr(InvalidChain, wrapped, "block 3")
	if !IsLedger(nested, InvalidChain) || !IsLedger(nested, InvalidBlock) {
		t.Fatalf("nested kinds should both be reported")
	}

	if IsLedger(fmt.Errorf("plain"), InvalidBlock) {
		t.Fatalf("plain errors are not ledger errors")
	}
	if IsLedger(nil, InvalidBlock) {
		t.Fatalf("nil is not a ledger error")
	}
}

func TestIsStore(t *testing.T) {
	err := NewStoreErr("chain", KeyNotFound, "chain")
	if !IsStore(errors.Wrap(err, "load"), KeyNotFound) {
		t.Fatalf("wrapped StoreErr should be KeyNotFound")
	}
	if IsStore(err, Closed) {
		t.Fatalf("StoreErr should not be Closed")
	}
}
