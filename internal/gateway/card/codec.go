package card

import (
	"github.com/go-faster/jx"
)

// session is a session or refund object.
type session struct {
	ID             string
	URL            string
	Status         string
	TransactionID  string
	FailureMessage string
}

func decodeSession(body []byte) (*session, error) {
	var s session
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			s.ID, err = d.Str()
		case "url":
			s.URL, err = d.Str()
		case "status":
			s.Status, err = d.Str()
		case "transaction_id":
			s.TransactionID, err = optStr(d)
		case "failure_message":
			s.FailureMessage, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeErrorMessage extracts error.message from an error body.
func decodeErrorMessage(body []byte) string {
	var msg string
	_ = jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "error" || d.Next() != jx.Object {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, key string) error {
			if key != "message" {
				return d.Skip()
			}
			v, err := d.Str()
			msg = v
			return err
		})
	})
	if msg == "" {
		return "no error message"
	}
	return msg
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// webhookEvent is a webhook delivery.
type webhookEvent struct {
	ID            string
	Type          string
	SessionID     string
	TransactionID string
	OrderID       string
	FailureReason string
}

func decodeWebhook(body []byte) (*webhookEvent, error) {
	var ev webhookEvent
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			ev.ID, err = d.Str()
		case "type":
			ev.Type, err = d.Str()
		case "data":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "session_id":
					ev.SessionID, err = d.Str()
				case "transaction_id":
					ev.TransactionID, err = optStr(d)
				case "failure_reason":
					ev.FailureReason, err = optStr(d)
				case "metadata":
					err = d.Obj(func(d *jx.Decoder, key string) error {
						if key != "order_id" {
							return d.Skip()
						}
						v, err := optStr(d)
						ev.OrderID = v
						return err
					})
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
