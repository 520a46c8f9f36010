// Package events delivers domain events to Kafka and to the log.
package events

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/event"
)

// EnvelopeVersion is the schema version of encoded events.
const EnvelopeVersion = 1

// EncodeEnvelope renders ev as
//
//	{"event_id","event_type","event_version","occurred_at","producer","payload":{...}}
//
// Empty payload fields are omitted.
func EncodeEnvelope(ev event.Event, producer string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(ev.ID)
	e.FieldStart("event_type")
	e.Str(string(ev.Type))
	e.FieldStart("event_version")
	e.Int(EnvelopeVersion)
	e.FieldStart("occurred_at")
	e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("producer")
	e.Str(producer)

	e.FieldStart("payload")
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(ev.OrderID)
	optStr(&e, "order_number", ev.OrderNumber)
	optStr(&e, "payment_id", ev.PaymentID)
	optStr(&e, "from", ev.From)
	optStr(&e, "to", ev.To)
	optStr(&e, "reason", ev.Reason)
	if ev.Currency != "" {
		e.FieldStart("amount")
		e.Int64(int64(ev.Amount))
		e.FieldStart("currency")
		e.Str(string(ev.Currency))
	}
	e.ObjEnd()

	e.ObjEnd()
	return e.Bytes()
}

func optStr(e *jx.Encoder, name, v string) {
	if v == "" {
		return
	}
	e.FieldStart(name)
	e.Str(v)
}
