package api

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tejusbharadwaj/babelgas/internal/models"
)

const successCode = "0"

type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  json.RawMessage `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// decodeResponse maps a query-dept body onto AccountData. The returned error
// is either an *APIError or a *ShapeError.
func decodeResponse(body []byte) (*models.AccountData, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ShapeError{Detail: err.Error()}
	}

	// Only the JSON string "0" counts; a numeric 0 is an error code.
	code, isString := rawText(env.Code)
	if !isString || code != successCode {
		msg, _ := rawText(env.Msg)
		return nil, &APIError{Code: code, Msg: msg}
	}

	if isNull(env.Data) {
		return nil, &ShapeError{Field: "data", Detail: "missing"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(env.Data, &fields); err != nil {
		return nil, &ShapeError{Field: "data", Detail: err.Error()}
	}

	d := fieldDecoder{fields: fields}
	out := &models.AccountData{
		Presave:     d.number("user_presave"),
		UserName:    d.text("user_name"),
		UserAddr:    d.text("user_addr"),
		AllGasFee:   d.number("all_gasfee"),
		OwnTotal:    d.number("own_total"),
		UserLateFee: d.number("user_latefee"),
		OtherFee:    d.number("other_fee"),
		UserNo:      d.text("userno"),
	}
	if d.err != nil {
		return nil, d.err
	}
	return out, nil
}

// fieldDecoder keeps the first failure so a whole record decodes in one pass.
type fieldDecoder struct {
	fields map[string]json.RawMessage
	err    *ShapeError
}

func (d *fieldDecoder) lookup(key string) (json.RawMessage, bool) {
	if d.err != nil {
		return nil, false
	}
	raw, ok := d.fields[key]
	if !ok {
		d.err = &ShapeError{Field: "data." + key, Detail: "missing"}
		return nil, false
	}
	return raw, true
}

func (d *fieldDecoder) number(key string) float64 {
	raw, ok := d.lookup(key)
	if !ok {
		return 0
	}
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || isNull(raw):
		d.err = &ShapeError{Field: "data." + key, Detail: "null is not a number"}
		return 0
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			d.err = &ShapeError{Field: "data." + key, Detail: err.Error()}
			return 0
		}
		s = strings.TrimSpace(s)
		if strings.ContainsAny(s, "xX") {
			d.err = &ShapeError{Field: "data." + key, Detail: "hexadecimal number " + strconv.Quote(s)}
			return 0
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			d.err = &ShapeError{Field: "data." + key, Detail: err.Error()}
			return 0
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			d.err = &ShapeError{Field: "data." + key, Detail: "non-finite number " + strconv.Quote(s)}
			return 0
		}
		return v
	default:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			d.err = &ShapeError{Field: "data." + key, Detail: err.Error()}
			return 0
		}
		return v
	}
}

func (d *fieldDecoder) text(key string) string {
	raw, ok := d.lookup(key)
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			d.err = &ShapeError{Field: "data." + key, Detail: err.Error()}
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		d.err = &ShapeError{Field: "data." + key, Detail: "expected string"}
		return ""
	}
	return n.String()
}

// rawText renders a scalar JSON value as text and reports whether it was a string.
func rawText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	return string(raw), false
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
