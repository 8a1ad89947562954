package ledger

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sort"
	"strings"
	"unicode/utf8"

	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
	"github.com/zacharyzhang1208/COMP5567-Project/src/crypto/keys"
)

// TxType is the tag of a Transaction.
type TxType string

// Transaction kinds.
const (
	UserRegistrationTx  TxType = "USER_REGISTRATION"
	CourseCreateTx      TxType = "COURSE_CREATE"
	CourseEnrollmentTx  TxType = "COURSE_ENROLLMENT"
	PublishAttendanceTx TxType = "PUBLISH_ATTENDANCE"
	SubmitAttendanceTx  TxType = "SUBMIT_ATTENDANCE"
)

// User types accepted in a USER_REGISTRATION.
const (
	Teacher = "TEACHER"
	Student = "STUDENT"
)

// VerificationCodeLength is the length of attendance verification codes.
const VerificationCodeLength = 6

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TxBody is the kind-specific part of a Transaction. It is implemented by
// UserRegistration, CourseCreate, CourseEnrollment, PublishAttendance and
// SubmitAttendance only.
type TxBody interface {
	Kind() TxType
	fields() map[string]interface{}
}

// UserRegistration binds a user id and role to a public key.
type UserRegistration struct {
	UserID                  string `json:"userId"`
	UserType                string `json:"userType"`
	PublicKey               string `json:"publicKey"`
	EncryptedPrivateKeyHash string `json:"encryptedPrivateKeyHash,omitempty"`
}

// Kind implements TxBody.
func (b *UserRegistration) Kind() TxType { return UserRegistrationTx }

func (b *UserRegistration) fields() map[string]interface{} {
	f := map[string]interface{}{
		"userId":    b.UserID,
		"userType":  b.UserType,
		"publicKey": b.PublicKey,
	}
	if b.EncryptedPrivateKeyHash != "" {
		f["encryptedPrivateKeyHash"] = b.EncryptedPrivateKeyHash
	}
	return f
}

// CourseCreate ...
type CourseCreate struct {
	CourseID   string `json:"courseId"`
	TeacherID  string `json:"teacherId"`
	CourseName string `json:"courseName"`
}

// Kind implements TxBody.
func (b *CourseCreate) Kind() TxType { return CourseCreateTx }

func (b *CourseCreate) fields() map[string]interface{} {
	return map[string]interface{}{
		"courseId":   b.CourseID,
		"teacherId":  b.TeacherID,
		"courseName": b.CourseName,
	}
}

// CourseEnrollment ...
type CourseEnrollment struct {
	StudentID string `json:"studentId"`
	CourseID  string `json:"courseId"`
}

// Kind implements TxBody.
func (b *CourseEnrollment) Kind() TxType { return CourseEnrollmentTx }

func (b *CourseEnrollment) fields() map[string]interface{} {
	return map[string]interface{}{
		"studentId": b.StudentID,
		"courseId":  b.CourseID,
	}
}

// PublishAttendance opens an attendance session. ValidPeriod is expressed in
// minutes from the transaction timestamp. VerificationCode is the shared
// secret students must echo back.
type PublishAttendance struct {
	CourseID         string `json:"courseId"`
	TeacherID        string `json:"teacherId"`
	ValidPeriod      int64  `json:"validPeriod"`
	VerificationCode string `json:"verificationCode"`
}

// Kind implements TxBody.
func (b *PublishAttendance) Kind() TxType { return PublishAttendanceTx }

func (b *PublishAttendance) fields() map[string]interface{} {
	return map[string]interface{}{
		"courseId":         b.CourseID,
		"teacherId":        b.TeacherID,
		"validPeriod":      b.ValidPeriod,
		"verificationCode": b.VerificationCode,
	}
}

// SubmitAttendance ...
type SubmitAttendance struct {
	StudentID        string `json:"studentId"`
	CourseID         string `json:"courseId"`
	VerificationCode string `json:"verificationCode"`
}

// Kind implements TxBody.
func (b *SubmitAttendance) Kind() TxType { return SubmitAttendanceTx }

func (b *SubmitAttendance) fields() map[string]interface{} {
	return map[string]interface{}{
		"studentId":        b.StudentID,
		"courseId":         b.CourseID,
		"verificationCode": b.VerificationCode,
	}
}

// VerifyCode reports whether the submitted code matches a published one.
func (b *SubmitAttendance) VerifyCode(published string) bool {
	return b.VerificationCode == published
}

// kindRules is the per-kind entry of the dispatch table. required checks the
// presence of mandatory fields and runs at construction; check holds the
// remaining invariants of the kind.
type kindRules struct {
	newBody  func() TxBody
	required func(TxBody) error
	check    func(TxBody) error
}

var kinds = map[TxType]kindRules{
	UserRegistrationTx: {
		newBody: func() TxBody { return new(UserRegistration) },
		required: func(b TxBody) error {
			u := b.(*UserRegistration)
			return requireFields("userId", u.UserID, "userType", u.UserType, "publicKey", u.PublicKey)
		},
		check: func(b TxBody) error {
			u := b.(*UserRegistration)
			if u.UserType != Teacher && u.UserType != Student {
				return invalidTx("userType must be %s or %s, got %q", Teacher, Student, u.UserType)
			}
			return nil
		},
	},
	CourseCreateTx: {
		newBody: func() TxBody { return new(CourseCreate) },
		required: func(b TxBody) error {
			c := b.(*CourseCreate)
			return requireFields("courseId", c.CourseID, "teacherId", c.TeacherID, "courseName", c.CourseName)
		},
		check: func(TxBody) error { return nil },
	},
	CourseEnrollmentTx: {
		newBody: func() TxBody { return new(CourseEnrollment) },
		required: func(b TxBody) error {
			e := b.(*CourseEnrollment)
			return requireFields("studentId", e.StudentID, "courseId", e.CourseID)
		},
		check: func(TxBody) error { return nil },
	},
	PublishAttendanceTx: {
		newBody: func() TxBody { return new(PublishAttendance) },
		required: func(b TxBody) error {
			p := b.(*PublishAttendance)
			return requireFields("courseId", p.CourseID, "teacherId", p.TeacherID)
		},
		check: func(b TxBody) error {
			p := b.(*PublishAttendance)
			if p.ValidPeriod <= 0 {
				return invalidTx("validPeriod must be positive, got %d", p.ValidPeriod)
			}
			return checkCode(p.VerificationCode)
		},
	},
	SubmitAttendanceTx: {
		newBody: func() TxBody { return new(SubmitAttendance) },
		required: func(b TxBody) error {
			s := b.(*SubmitAttendance)
			return requireFields("studentId", s.StudentID, "courseId", s.CourseID, "verificationCode", s.VerificationCode)
		},
		check: func(b TxBody) error {
			return checkCode(b.(*SubmitAttendance).VerificationCode)
		},
	},
}

// Transaction is a tagged ledger operation. Hash covers the type, the
// timestamp and the body, never the signature.
type Transaction struct {
	Type      TxType
	Timestamp int64
	Signature string
	Hash      string
	Body      TxBody
}

// NewTransaction builds a transaction around body and computes its hash. A
// zero timestamp means now. A PublishAttendance without a verification code
// gets a freshly generated one. Missing mandatory fields are rejected.
func NewTransaction(body TxBody, timestamp int64) (*Transaction, error) {
	if body == nil {
		return nil, invalidTx("missing transaction body")
	}

	rules, ok := kinds[body.Kind()]
	if !ok {
		return nil, invalidTx("unknown transaction type %q", body.Kind())
	}

	if p, ok := body.(*PublishAttendance); ok && p.VerificationCode == "" {
		code, err := GenerateVerificationCode()
		if err != nil {
			return nil, err
		}
		p.VerificationCode = code
	}

	if err := rules.required(body); err != nil {
		return nil, err
	}

	if timestamp == 0 {
		timestamp = nowMillis()
	}

	tx := &Transaction{
		Type:      body.Kind(),
		Timestamp: timestamp,
		Body:      body,
	}
	tx.Hash = tx.CalculateHash()

	return tx, nil
}

// NewPublishAttendance opens an attendance session with a random code.
func NewPublishAttendance(courseID, teacherID string, validPeriod int64) (*Transaction, error) {
	return NewTransaction(&PublishAttendance{
		CourseID:    courseID,
		TeacherID:   teacherID,
		ValidPeriod: validPeriod,
	}, 0)
}

// GenerateVerificationCode returns a uniformly random code over [A-Z0-9].
func GenerateVerificationCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	code := make([]byte, VerificationCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// CalculateHash is a pure function of the type, timestamp and body fields.
func (tx *Transaction) CalculateHash() string {
	f := map[string]interface{}{}
	if tx.Body != nil {
		f = tx.Body.fields()
	}
	f["type"] = string(tx.Type)
	f["timestamp"] = tx.Timestamp

	hash, err := canonicalHash(f)
	if err != nil {
		return ""
	}
	return hash
}

// Sign signs the transaction hash with the private key.
func (tx *Transaction) Sign(priv *ecdsa.PrivateKey) error {
	sig, err := keys.Sign(priv, []byte(tx.Hash))
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Validate returns nil if the transaction is valid, or an InvalidTransaction
// error with the reason. Unknown kinds are invalid.
func (tx *Transaction) Validate() error {
	rules, ok := kinds[tx.Type]
	if !ok {
		return invalidTx("unknown transaction type %q", tx.Type)
	}
	if tx.Body == nil || tx.Body.Kind() != tx.Type {
		return invalidTx("body does not match type %s", tx.Type)
	}
	if tx.Hash == "" || tx.Hash != tx.CalculateHash() {
		return invalidTx("hash mismatch")
	}
	if err := rules.required(tx.Body); err != nil {
		return err
	}
	if err := rules.check(tx.Body); err != nil {
		return err
	}

	// A signed registration must be signed by the key it registers.
	if u, ok := tx.Body.(*UserRegistration); ok && tx.Signature != "" {
		if !keys.Verify([]byte(tx.Hash), tx.Signature, u.PublicKey) {
			return invalidTx("registration signature does not match publicKey")
		}
	}

	return nil
}

// IsValid ...
func (tx *Transaction) IsValid() bool {
	return tx.Validate() == nil
}

func (tx *Transaction) wireFields() map[string]interface{} {
	f := map[string]interface{}{}
	if tx.Body != nil {
		f = tx.Body.fields()
	}
	f["type"] = string(tx.Type)
	f["timestamp"] = tx.Timestamp
	f["hash"] = tx.Hash
	if tx.Signature != "" {
		f["signature"] = tx.Signature
	}
	return f
}

// MarshalJSON flattens the body into the transaction object.
func (tx *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(tx.wireFields())
}

type txHeader struct {
	Type      TxType `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
	Hash      string `json:"hash"`
}

// UnmarshalJSON materializes the variant named by the type tag. An unknown
// type decodes without a body, and such a transaction is never valid.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var h txHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}

	tx.Type = h.Type
	tx.Timestamp = h.Timestamp
	tx.Signature = h.Signature
	tx.Hash = h.Hash
	tx.Body = nil

	if rules, ok := kinds[h.Type]; ok {
		body := rules.newBody()
		if err := json.Unmarshal(data, body); err != nil {
			return err
		}
		tx.Body = body
	}

	return nil
}

// Marshal ...
func (tx *Transaction) Marshal() ([]byte, error) {
	return json.Marshal(tx)
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	return json.Unmarshal(data, tx)
}

// sortTransactions orders by timestamp then hash, which is the order in which
// pending transactions are packed into blocks.
func sortTransactions(txs []*Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		return txs[i].Hash < txs[j].Hash
	})
}

func requireFields(nameValues ...string) error {
	for i := 0; i+1 < len(nameValues); i += 2 {
		if nameValues[i+1] == "" {
			return invalidTx("missing %s", nameValues[i])
		}
	}
	return nil
}

func checkCode(code string) error {
	if n := utf8.RuneCountInString(code); n != VerificationCodeLength {
		return invalidTx("verificationCode must have %d characters, got %d", VerificationCodeLength, n)
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			return invalidTx("verificationCode has character %q outside [A-Z0-9]", c)
		}
	}
	return nil
}

func invalidTx(format string, args ...interface{}) error {
	return cm.NewLedgerErrf(cm.InvalidTransaction, format, args...)
}
