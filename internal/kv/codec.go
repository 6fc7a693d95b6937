package kv

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"minicrm/internal/model"
)

// rowDoc is the stored form of records and link records. Timestamps are kept as
// unix nanoseconds because BSON datetimes only carry milliseconds.
type rowDoc struct {
	ID      string `bson:"_id"`
	Owner   string `bson:"owner"`
	From    string `bson:"from,omitempty"`
	To      string `bson:"to,omitempty"`
	Version int64  `bson:"v"`
	Data    bson.M `bson:"data"`
	Created int64  `bson:"created"`
	Updated int64  `bson:"updated"`
}

func encodeRecord(r *model.Record) ([]byte, error) {
	b, err := bson.Marshal(rowDoc{
		ID: r.ID, Owner: r.TableID, Version: r.Version, Data: bson.M(r.Data),
		Created: unixNano(r.CreatedAt), Updated: unixNano(r.UpdatedAt),
	})
	return b, errors.Wrapf(err, "kv: encode record %s", r.ID)
}

func decodeRecord(b []byte) (*model.Record, error) {
	var d rowDoc
	if err := bson.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "kv: decode record")
	}
	return &model.Record{
		ID: d.ID, TableID: d.Owner, Version: d.Version, Data: plainMap(d.Data),
		CreatedAt: fromUnixNano(d.Created), UpdatedAt: fromUnixNano(d.Updated),
	}, nil
}

func encodeLinkRecord(r *model.LinkRecord) ([]byte, error) {
	b, err := bson.Marshal(rowDoc{
		ID: r.ID, Owner: r.LinkTableID, From: r.FromRecordID, To: r.ToRecordID, Version: r.Version,
		Data: bson.M(r.Data), Created: unixNano(r.CreatedAt), Updated: unixNano(r.UpdatedAt),
	})
	return b, errors.Wrapf(err, "kv: encode link record %s", r.ID)
}

func decodeLinkRecord(b []byte) (*model.LinkRecord, error) {
	var d rowDoc
	if err := bson.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "kv: decode link record")
	}
	return &model.LinkRecord{
		ID: d.ID, LinkTableID: d.Owner, FromRecordID: d.From, ToRecordID: d.To, Version: d.Version,
		Data: plainMap(d.Data), CreatedAt: fromUnixNano(d.Created), UpdatedAt: fromUnixNano(d.Updated),
	}, nil
}

func plainMap(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

// plain turns the driver's container types back into the shapes encoding/json produces.
func plain(v any) any {
	switch x := v.(type) {
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.M:
		return plainMap(bson.M(x))
	case int32:
		return int64(x)
	case primitive.DateTime:
		return x.Time().UTC()
	default:
		return v
	}
}
