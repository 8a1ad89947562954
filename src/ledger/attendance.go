package ledger

import (
	cm "github.com/zacharyzhang1208/COMP5567-Project/src/common"
)

const millisPerMinute = 60 * 1000

// CheckAttendance verifies that a SUBMIT_ATTENDANCE echoes the code of a
// PUBLISH_ATTENDANCE for the same course, committed or pending, and that it
// was submitted inside the session's validPeriod. Other kinds pass.
func (l *Ledger) CheckAttendance(tx *Transaction) error {
	submit, ok := tx.Body.(*SubmitAttendance)
	if !ok {
		return nil
	}

	l.RLock()
	defer l.RUnlock()

	matched := false
	for _, pub := range l.publications(submit.CourseID) {
		body := pub.Body.(*PublishAttendance)
		if !submit.VerifyCode(body.VerificationCode) {
			continue
		}
		matched = true
		deadline := pub.Timestamp + body.ValidPeriod*millisPerMinute
		if tx.Timestamp >= pub.Timestamp && tx.Timestamp <= deadline {
			return nil
		}
	}

	if matched {
		return cm.NewLedgerErrf(cm.InvalidTransaction, "attendance session for course %s is closed", submit.CourseID)
	}
	return cm.NewLedgerErrf(cm.InvalidTransaction, "no attendance session for course %s matches the code", submit.CourseID)
}

// IsRegistered reports whether a USER_REGISTRATION for userID is committed or
// pending.
func (l *Ledger) IsRegistered(userID string) bool {
	l.RLock()
	defer l.RUnlock()

	found := false
	l.eachTransaction(func(tx *Transaction) bool {
		if u, ok := tx.Body.(*UserRegistration); ok && u.UserID == userID {
			found = true
			return false
		}
		return true
	})
	return found
}

// publications returns the PUBLISH_ATTENDANCE transactions of a course.
func (l *Ledger) publications(courseID string) []*Transaction {
	var res []*Transaction
	l.eachTransaction(func(tx *Transaction) bool {
		if p, ok := tx.Body.(*PublishAttendance); ok && p.CourseID == courseID {
			res = append(res, tx)
		}
		return true
	})
	return res
}

// eachTransaction visits committed then pending transactions until f returns
// false.
func (l *Ledger) eachTransaction(f func(*Transaction) bool) {
	for _, b := range l.chain {
		for _, tx := range b.Transactions {
			if !f(tx) {
				return
			}
		}
	}
	for _, tx := range l.sortedPending() {
		if !f(tx) {
			return
		}
	}
}
