package postgres

import (
	"fmt"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanKey reads a (type_tag, id) pair.
func scanKey(row scannable) (model.Key, error) {
	var (
		typeTag int64
		id      []byte
	)
	if err := row.Scan(&typeTag, &id); err != nil {
		return model.Key{}, fmt.Errorf("scan key: %w", err)
	}
	name, err := model.NameFromBytes(id)
	if err != nil {
		return model.Key{}, fmt.Errorf("scan key: %w", err)
	}
	return model.Key{TypeTag: uint64(typeTag), ID: name}, nil
}

func decodeBody(body []byte) (*model.Record, error) {
	rec, err := codec.DecodeRecord(body)
	if err != nil {
		return nil, fmt.Errorf("decode stored record: %w", err)
	}
	return rec, nil
}
