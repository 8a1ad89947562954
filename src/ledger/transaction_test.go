package ledger

import (
	"encoding/json"
	"testing"

	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

func createTestTransactions(t *testing.T) []*Transaction {
	key, err := keys.GenerateKeyPair("s1", "pwd")
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	bodies := []TxBody{
		&UserRegistration{UserID: "s1", UserType: Student, PublicKey: keys.PublicKeyHex(&key.PublicKey)},
		&CourseCreate{CourseID: "COMP5567", TeacherID: "t1", CourseName: "Blockchain"},
		&CourseEnrollment{StudentID: "s1", CourseID: "COMP5567"},
		&PublishAttendance{CourseID: "COMP5567", TeacherID: "t1", ValidPeriod: 10},
		&SubmitAttendance{StudentID: "s1", CourseID: "COMP5567", VerificationCode: "AB12CD"},
	}

	txs := []*Transaction{}
	for i, b := range bodies {
		tx, err := NewTransaction(b, 1701676900000+int64(i))
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		txs = append(txs, tx)
	}

	if err := txs[0].Sign(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	return txs
}

func TestTransactionRoundTrip(t *testing.T) {
	for _, tx := range createTestTransactions(t) {
		if err := tx.Validate(); err != nil {
			t.Fatalf("%s should be valid: %v", tx.Type, err)
		}

		raw, err := tx.Marshal()
		if err != nil {
			t.Fatalf("err: %v", err)
		}

		decoded := new(Transaction)
		if err := decoded.Unmarshal(raw); err != nil {
			t.Fatalf("err: %v", err)
		}

		if err := decoded.Validate(); err != nil {
			t.Fatalf("decoded %s should be valid: %v", tx.Type, err)
		}
		if decoded.Hash != tx.Hash {
			t.Fatalf("decoded hash should be %s, not %s", tx.Hash, decoded.Hash)
		}
		if decoded.Signature != tx.Signature {
			t.Fatalf("signature lost in round trip")
		}
	}
}

func TestTransactionWireFormat(t *testing.T) {
	tx, err := NewTransaction(&CourseEnrollment{StudentID: "s1", CourseID: "c1"}, 42)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	raw, _ := json.Marshal(tx)

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("err: %v", err)
	}

	expected := map[string]interface{}{
		"type":      "COURSE_ENROLLMENT",
		"timestamp": float64(42),
		"hash":      tx.Hash,
		"studentId": "s1",
		"courseId":  "c1",
	}
	if len(m) != len(expected) {
		t.Fatalf("wire object should have %d fields, got %v", len(expected), m)
	}
	for k, v := range expected {
		if m[k] != v {
			t.Fatalf("field %s should be %v, not %v", k, v, m[k])
		}
	}
}

func TestTransactionHashExcludesSignature(t *testing.T) {
	txs := createTestTransactions(t)
	tx := txs[1]

	before := tx.CalculateHash()
	tx.Signature = "3044"
	if tx.CalculateHash() != before {
		t.Fatalf("signature should not affect the hash")
	}

	tx.Body.(*CourseCreate).CourseName = "Other"
	if tx.CalculateHash() == before {
		t.Fatalf("body fields should affect the hash")
	}
	if tx.IsValid() {
		t.Fatalf("mutated transaction should be invalid")
	}
}

func TestInvalidUserType(t *testing.T) {
	tx, err := NewTransaction(&UserRegistration{UserID: "p1", UserType: "PRINCIPAL", PublicKey: "04aa"}, 0)
	if err != nil {
		t.Fatalf("construction only checks presence: %v", err)
	}

	err = tx.Validate()
	if !cm.IsLedger(err, cm.InvalidTransaction) {
		t.Fatalf("PRINCIPAL should be an InvalidTransaction, got %v", err)
	}
}

func TestShortVerificationCode(t *testing.T) {
	tx, err := NewTransaction(&SubmitAttendance{StudentID: "s1", CourseID: "c1", VerificationCode: "ABCDE"}, 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if tx.IsValid() {
		t.Fatalf("5-character code should be invalid")
	}

	// 5 characters, 6 bytes
	tx, err = NewTransaction(&SubmitAttendance{StudentID: "s1", CourseID: "c1", VerificationCode: "ÄBCDE"}, 0)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if tx.IsValid() {
		t.Fatalf("code %q has 5 characters and should be invalid", "ÄBCDE")
	}

	for _, code := range []string{"abcdef", "ABC-12", "ÄBCDEF"} {
		tx, err = NewTransaction(&PublishAttendance{CourseID: "c1", TeacherID: "t1", VerificationCode: code, ValidPeriod: 15}, 0)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if tx.IsValid() {
			t.Fatalf("code %q is outside [A-Z0-9] and should be invalid", code)
		}
	}
}

func TestPublishAttendanceCode(t *testing.T) {
	tx, err := NewPublishAttendance("c1", "t1", 15)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	code := tx.Body.(*PublishAttendance).VerificationCode
	if len(code) != VerificationCodeLength {
		t.Fatalf("code should have %d characters, got %q", VerificationCodeLength, code)
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			t.Fatalf("code %q has a character outside [A-Z0-9]", code)
		}
	}
	if !tx.IsValid() {
		t.Fatalf("published attendance should be valid")
	}

	submit := &SubmitAttendance{VerificationCode: code}
	if !submit.VerifyCode(code) || submit.VerifyCode("ZZZZZZ") {
		t.Fatalf("VerifyCode should compare codes")
	}
}

func TestMissingFields(t *testing.T) {
	if _, err := NewTransaction(&CourseCreate{CourseID: "c1", TeacherID: "t1"}, 0); !cm.IsLedger(err, cm.InvalidTransaction) {
		t.Fatalf("missing courseName should be rejected at construction, got %v", err)
	}
	if _, err := NewTransaction(nil, 0); err == nil {
		t.Fatalf("nil body should be rejected")
	}
}

func TestUnknownAndMismatchedKinds(t *testing.T) {
	tx := new(Transaction)
	if err := tx.Unmarshal([]byte(`{"type":"GRADE_CHANGE","timestamp":1,"hash":"x"}`)); err != nil {
		t.Fatalf("err: %v", err)
	}
	if tx.IsValid() {
		t.Fatalf("unknown kind should be invalid")
	}

	good, _ := NewTransaction(&CourseEnrollment{StudentID: "s1", CourseID: "c1"}, 7)
	mismatched := &Transaction{
		Type:      CourseCreateTx,
		Timestamp: good.Timestamp,
		Body:      good.Body,
	}
	mismatched.Hash = mismatched.CalculateHash()
	if mismatched.IsValid() {
		t.Fatalf("body of another kind should be invalid")
	}
}

func TestRegistrationSignature(t *testing.T) {
	txs := createTestTransactions(t)
	reg := txs[0]

	other, _ := keys.GenerateECDSAKey()
	if err := reg.Sign(other); err != nil {
		t.Fatalf("err: %v", err)
	}
	if reg.IsValid() {
		t.Fatalf("registration signed by another key should be invalid")
	}
}
