package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// Structured values are stored as deterministic CBOR, so equal values give
// equal bytes no matter which service wrote them.
var (
	objEnc cbor.EncMode
	objDec cbor.DecMode
)

func init() {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	objEnc, err = encOpts.EncMode()
	if err != nil {
		panic("cbor encoder: " + err.Error())
	}

	objDec, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("cbor decoder: " + err.Error())
	}
}

// SetObject stores v, CBOR encoded, under name. A zero ttl keeps it forever.
func (r *Runtime) SetObject(ctx context.Context, name string, v any, ttl time.Duration) error {
	if r.rdb == nil {
		return ErrNotConnected
	}
	b, err := objEnc.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding object %s: %w", name, err)
	}
	if err := r.rdb.Set(ctx, name, b, ttl).Err(); err != nil {
		return fmt.Errorf("setting object %s: %w", name, err)
	}
	return nil
}

// GetObject decodes the object stored by SetObject under name into dst.
// It reports false when nothing is stored.
func (r *Runtime) GetObject(ctx context.Context, name string, dst any) (bool, error) {
	if r.rdb == nil {
		return false, ErrNotConnected
	}
	b, err := r.rdb.Get(ctx, name).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("getting object %s: %w", name, err)
	}
	if err := objDec.Unmarshal(b, dst); err != nil {
		return true, fmt.Errorf("decoding object %s: %w", name, err)
	}
	return true, nil
}
