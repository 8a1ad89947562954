package ledger

import (
	"testing"

	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
)

func TestCheckAttendance(t *testing.T) {
	l := initLedger(t, nil)

	pub, err := NewTransaction(&PublishAttendance{
		CourseID:    "COMP5567",
		TeacherID:   "t1",
		ValidPeriod: 10,
	}, 1000000)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := l.AddTransaction(pub); err != nil {
		t.Fatalf("err: %v", err)
	}
	code := pub.Body.(*PublishAttendance).VerificationCode

	submit := func(course, code string, ts int64) *Transaction {
		tx, err := NewTransaction(&SubmitAttendance{
			StudentID:        "s1",
			CourseID:         course,
			VerificationCode: code,
		}, ts)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		return tx
	}

	if err := l.CheckAttendance(submit("COMP5567", code, 1000000+5*millisPerMinute)); err != nil {
		t.Fatalf("submission inside the session should pass: %v", err)
	}

	// committed publications count too
	if _, err := l.CreateBlock("v", "", ""); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := l.CheckAttendance(submit("COMP5567", code, 1000000+10*millisPerMinute)); err != nil {
		t.Fatalf("submission at the deadline should pass: %v", err)
	}

	cases := []struct {
		name string
		tx   *Transaction
	}{
		{"late", submit("COMP5567", code, 1000000+11*millisPerMinute)},
		{"early", submit("COMP5567", code, 999999)},
		{"wrong code", submit("COMP5567", "ZZZZZ9", 1000000+60)},
		{"wrong course", submit("COMP9999", code, 1000000+60)},
	}
	for _, c := range cases {
		if err := l.CheckAttendance(c.tx); !cm.IsLedger(err, cm.InvalidTransaction) {
			t.Fatalf("%s: should be InvalidTransaction, got %v", c.name, err)
		}
	}

	if err := l.CheckAttendance(enrollment(t, "s1")); err != nil {
		t.Fatalf("other kinds should pass: %v", err)
	}
}

func TestIsRegistered(t *testing.T) {
	l := initLedger(t, nil)

	if !l.IsRegistered(DefaultGenesisConfig().AdminID) {
		t.Fatalf("genesis admin should be registered")
	}
	if l.IsRegistered("s1") {
		t.Fatalf("s1 should not be registered yet")
	}

	txs := createTestTransactions(t)
	for _, tx := range txs {
		if _, err := l.AddTransaction(tx); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	reg := txs[0].Body.(*UserRegistration)
	if !l.IsRegistered(reg.UserID) {
		t.Fatalf("%s should be registered once pending", reg.UserID)
	}
}
