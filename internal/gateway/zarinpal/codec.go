package zarinpal

import (
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// result is the union of request and verify responses.
type result struct {
	Code      int
	Message   string
	Authority string
	RefID     string
}

// decodeResult reads {"data": {...}, "errors": {...}}. On failure the
// gateway sends "data": [] and the code in "errors".
func decodeResult(body []byte) (*result, error) {
	var (
		res     result
		hasData bool
	)
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "data":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			hasData = true
			return decodeFields(d, &res)
		case "errors":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			var errRes result
			if err := decodeFields(d, &errRes); err != nil {
				return err
			}
			if !hasData || res.Code == 0 {
				res = errRes
			}
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	if res.Code == 0 {
		return nil, errors.New("response carries no code")
	}
	return &res, nil
}

func decodeFields(d *jx.Decoder, res *result) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Int()
			res.Code = v
			return err
		case "message":
			v, err := d.Str()
			res.Message = v
			return err
		case "authority":
			v, err := d.Str()
			res.Authority = v
			return err
		case "ref_id":
			// Sent as a number; tolerate strings.
			if d.Next() == jx.String {
				v, err := d.Str()
				res.RefID = v
				return err
			}
			v, err := d.Int64()
			res.RefID = strconv.FormatInt(v, 10)
			return err
		default:
			return d.Skip()
		}
	})
}
