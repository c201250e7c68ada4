// Package fingerprint computes stable content digests of resource configurations.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/snapdelta/pkg/resource"
)

// defaultExclusions are configuration keys that change without the resource
// itself changing: timestamps, transient state, request identifiers, versions.
var defaultExclusions = []string{
	"ResponseMetadata",
	"LastModifiedDate",
	"CreatedDate",
	"CreateDate",
	"State",
	"Status",
	"RequestId",
	"VersionId",
	"LastUpdateTime",
	"LastUpdatedTime",
	"ModifiedTime",
}

// DefaultExclusions returns a fresh copy of the default volatile key set.
func DefaultExclusions() []string {
	out := make([]string, len(defaultExclusions))
	copy(out, defaultExclusions)
	return out
}

// Hasher fingerprints structured configuration. It holds no mutable state
// after construction and is safe for concurrent use.
type Hasher struct {
	exclude map[string]struct{}
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithExclusions replaces the exclusion set.
func WithExclusions(keys ...string) Option {
	return func(h *Hasher) {
		h.exclude = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			h.exclude[k] = struct{}{}
		}
	}
}

// WithAdditionalExclusions adds keys to the current exclusion set.
func WithAdditionalExclusions(keys ...string) Option {
	return func(h *Hasher) {
		for _, k := range keys {
			h.exclude[k] = struct{}{}
		}
	}
}

// New creates a Hasher using the default exclusion set unless overridden.
func New(opts ...Option) *Hasher {
	h := &Hasher{}
	WithExclusions(defaultExclusions...)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Exclusions returns the sorted exclusion set.
func (h *Hasher) Exclusions() []string {
	keys := make([]string, 0, len(h.exclude))
	for k := range h.exclude {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Excluded reports whether key is stripped before hashing.
func (h *Hasher) Excluded(key string) bool {
	_, ok := h.exclude[key]
	return ok
}

// Sum returns the hex SHA-256 of the canonical form of v.
func (h *Hasher) Sum(v any) string {
	sum := sha256.Sum256(h.Canonical(v))
	return hex.EncodeToString(sum[:])
}

// Stamp sets r.ConfigHash from r.RawConfig.
func (h *Hasher) Stamp(r *resource.Resource) {
	r.ConfigHash = h.Sum(r.RawConfig)
}

// StampAll fingerprints every resource in place using up to workers goroutines.
// Each goroutine writes a distinct element, so no locking is needed.
func (h *Hasher) StampAll(ctx context.Context, resources []resource.Resource, workers int) error {
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range resources {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h.Stamp(&resources[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("stamp config hashes: %w", err)
	}
	return ctx.Err()
}

// Canonical returns the canonical JSON form of v after volatile keys are removed.
// Map keys are sorted; sequence order is kept.
func (h *Hasher) Canonical(v any) []byte {
	var buf bytes.Buffer
	writeValue(&buf, h.Clean(v))
	return buf.Bytes()
}

// Clean returns a copy of v reduced to maps, sequences and scalars with every
// excluded key removed at any depth.
func (h *Hasher) Clean(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if h.Excluded(k) {
				continue
			}
			out[k] = h.Clean(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = h.Clean(val)
		}
		return out
	case string, bool, json.Number, time.Time, []byte:
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return h.Clean(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := fmt.Sprint(iter.Key().Interface())
			if h.Excluded(k) {
				continue
			}
			out[k] = h.Clean(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = h.Clean(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		if plain, ok := viaJSON(v); ok {
			return h.Clean(plain)
		}
		return fmt.Sprint(v)
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// viaJSON converts a struct to plain maps using its JSON encoding.
func viaJSON(v any) (any, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

func writeValue(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		writeMap(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, val := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, val)
		}
		buf.WriteByte(']')
	case string:
		writeString(buf, t)
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case json.Number:
		writeNumber(buf, t)
	case time.Time:
		writeString(buf, t.UTC().Format(time.RFC3339Nano))
	case []byte:
		writeString(buf, base64.StdEncoding.EncodeToString(t))
	default:
		writeScalar(buf, v)
	}
}

func writeMap(buf *bytes.Buffer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		writeValue(buf, m[k])
	}
	buf.WriteByte('}')
}

// writeScalar handles named scalar kinds left after Clean.
func writeScalar(buf *bytes.Buffer, v any) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.String:
		writeString(buf, rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		writeFloat(buf, rv.Float())
	default:
		writeString(buf, fmt.Sprint(v))
	}
}

// writeNumber normalizes decoded JSON numbers so 3 and 3.0 hash alike.
func writeNumber(buf *bytes.Buffer, n json.Number) {
	if i, err := n.Int64(); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return
	}
	// Integer literals beyond int64 keep every digit so they hash like the
	// uint64 a YAML decoder produces for the same value.
	if !strings.ContainsAny(n.String(), ".eE") {
		if i, ok := new(big.Int).SetString(n.String(), 10); ok {
			buf.WriteString(i.String())
			return
		}
	}
	if f, err := n.Float64(); err == nil {
		writeFloat(buf, f)
		return
	}
	writeString(buf, n.String())
}

// maxExactFloat is the largest magnitude at which every integer is representable in a float64.
const maxExactFloat = 1 << 53

func writeFloat(buf *bytes.Buffer, f float64) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		writeString(buf, strconv.FormatFloat(f, 'g', -1, 64))
	case f == math.Trunc(f) && math.Abs(f) <= maxExactFloat:
		buf.WriteString(strconv.FormatInt(int64(f), 10))
	default:
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
