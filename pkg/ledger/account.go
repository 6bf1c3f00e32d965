package ledger

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// DateLayout is the calendar-date format stored in LastResetDate.
const DateLayout = "2006-01-02"

// DefaultAllotment is the number of requests a requester may make per day.
const DefaultAllotment = 3

// Account is the persisted quota of a single requester.
type Account struct {
	Credits       int    `json:"credits"`
	LastResetDate string `json:"last_reset_date"`
}

// valid reports whether the record can be trusted as stored. Credits above
// the allotment are allowed because an administrative override may set them.
func (a Account) valid() bool {
	if a.Credits < 0 {
		return false
	}
	_, err := time.Parse(DateLayout, a.LastResetDate)
	return err == nil
}

func encodeAccount(a Account) ([]byte, error) {
	return json.Marshal(a)
}

// decodeAccount reads a stored JSON record without trusting its shape.
// Fields that are missing or of the wrong type come back as values that
// fail valid(), so the ledger repairs the record on next use instead of the
// whole load failing.
func decodeAccount(raw []byte) Account {
	acct := Account{Credits: -1}
	if !gjson.ValidBytes(raw) {
		return acct
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return acct
	}

	if credits := doc.Get("credits"); credits.Type == gjson.Number && credits.Num == float64(int64(credits.Num)) {
		acct.Credits = int(credits.Int())
	}
	if date := doc.Get("last_reset_date"); date.Type == gjson.String {
		acct.LastResetDate = date.String()
	}
	return acct
}
