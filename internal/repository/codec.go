package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiawesome/wes-io-broadcast/pkg/log"
)

func encode[T Entity](entity T) ([]byte, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", entity.EntityID(), err)
	}
	return data, nil
}

func decode[T Entity](collection, id string, data []byte) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, collection, id, err)
	}
	return out, nil
}

// decodeAll decodes records in the given id order, logging and skipping
// the ones that fail.
func decodeAll[T Entity](ctx context.Context, collection string, ids []string, raw func(id string) []byte) []T {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		entity, err := decode[T](collection, id, raw(id))
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("skipping malformed record")
			continue
		}
		out = append(out, entity)
	}
	return out
}
