package models

import "time"

// Credentials identify one Babel gas account.
type Credentials struct {
	Token    string
	MemberID string
}

// AccountData is the typed form of the "data" object returned by query-dept.
type AccountData struct {
	Presave     float64
	UserName    string
	UserAddr    string
	AllGasFee   float64
	OwnTotal    float64
	UserLateFee float64
	OtherFee    float64
	UserNo      string
}

// GasAttributes are the extra state attributes of a gas sensor entity.
type GasAttributes struct {
	UserName    string    `json:"user_name"`
	UserAddr    string    `json:"user_addr"`
	AllGasFee   float64   `json:"all_gasfee"`
	OwnTotal    float64   `json:"own_total"`
	UserLateFee float64   `json:"user_latefee"`
	OtherFee    float64   `json:"other_fee"`
	UserNo      string    `json:"userno"`
	LastUpdate  time.Time `json:"last_update"`
}

// NewGasAttributes builds the attribute set for a successful update at ts.
func NewGasAttributes(data *AccountData, ts time.Time) *GasAttributes {
	return &GasAttributes{
		UserName:    data.UserName,
		UserAddr:    data.UserAddr,
		AllGasFee:   data.AllGasFee,
		OwnTotal:    data.OwnTotal,
		UserLateFee: data.UserLateFee,
		OtherFee:    data.OtherFee,
		UserNo:      data.UserNo,
		LastUpdate:  ts.UTC(),
	}
}

// Map returns the attributes as a flat mapping.
func (a *GasAttributes) Map() map[string]interface{} {
	if a == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"user_name":    a.UserName,
		"user_addr":    a.UserAddr,
		"all_gasfee":   a.AllGasFee,
		"own_total":    a.OwnTotal,
		"user_latefee": a.UserLateFee,
		"other_fee":    a.OtherFee,
		"userno":       a.UserNo,
		"last_update":  a.LastUpdate.Format(time.RFC3339Nano),
	}
}

// EntityState is an immutable snapshot of a sensor entity.
type EntityState struct {
	EntryID           string                 `json:"entry_id,omitempty"`
	UniqueID          string                 `json:"unique_id"`
	Name              string                 `json:"name"`
	State             *float64               `json:"state"`
	Attributes        map[string]interface{} `json:"attributes"`
	Icon              string                 `json:"icon"`
	UnitOfMeasurement string                 `json:"unit_of_measurement"`
	Available         bool                   `json:"available"`
	LastAttempt       time.Time              `json:"last_attempt"`
	LastError         string                 `json:"last_error,omitempty"`
	Version           uint64                 `json:"version"`
}
