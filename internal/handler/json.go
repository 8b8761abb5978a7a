package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// maxBodyBytes bounds request bodies; carts are small.
const maxBodyBytes = 1 << 20

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// decodeBody reads the request body and passes each top-level field to fn.
func decodeBody(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return errors.Wrap(errBadRequest, "read body")
	}
	if len(body) > maxBodyBytes {
		return errors.Wrap(errBadRequest, "body too large")
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		return errors.Wrapf(errBadRequest, "decode body: %v", err)
	}
	return nil
}

// decodeDecimal reads a JSON number, or a string holding one, without going
// through float64.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(strings.Trim(string(n), `"`))
}

// decodeOptStr reads a string that may be null.
func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// encodeMoney writes an amount as a plain JSON number.
func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Float64(v.InexactFloat64())
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; a failed write means the client is gone.
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, status, e)
}

// decodeOptTime reads an RFC 3339 timestamp that may be null.
func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	s, err := decodeOptStr(d)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
