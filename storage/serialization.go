// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/grundgraph/core"
)

const (
	jobFormatVersion   = 1
	pointFormatVersion = 1
)

// metadata value kinds
const (
	kindString = iota + 1
	kindBool
	kindInt
	kindFloat
	kindStrings
)

// MarshalJob serializes a JobRecord to bytes.
func MarshalJob(job *core.JobRecord) []byte {
	return encode(func(w *musWriter) {
		w.int(jobFormatVersion)
		w.str(job.ID)
		w.str(string(job.Type))
		w.str(string(job.Status))
		w.str(job.Filename)
		w.str(job.FilePath)
		w.str(job.DocumentID)
		writeOptions(w, job.Options)
		w.float64(job.Progress)
		w.int(job.TotalChunks)
		w.int(job.CompletedChunks)
		w.str(job.ErrorMessage)
		w.time(job.CreatedAt)
		w.time(job.UpdatedAt)
		w.time(job.StartedAt)
		w.time(job.CompletedAt)
	})
}

// UnmarshalJob deserializes a JobRecord from bytes.
func UnmarshalJob(data []byte) (*core.JobRecord, error) {
	r := &musReader{bs: data}
	if v := r.int(); r.err == nil && v != jobFormatVersion {
		return nil, fmt.Errorf("%w: job format version %d", ErrSerializationFailed, v)
	}
	job := &core.JobRecord{
		ID:         r.str(),
		Type:       core.JobType(r.str()),
		Status:     core.JobStatus(r.str()),
		Filename:   r.str(),
		FilePath:   r.str(),
		DocumentID: r.str(),
	}
	job.Options = readOptions(r)
	job.Progress = r.float64()
	job.TotalChunks = r.int()
	job.CompletedChunks = r.int()
	job.ErrorMessage = r.str()
	job.CreatedAt = r.time()
	job.UpdatedAt = r.time()
	job.StartedAt = r.time()
	job.CompletedAt = r.time()
	if r.err != nil {
		return nil, fmt.Errorf("%w: job: %w", ErrSerializationFailed, r.err)
	}
	return job, nil
}

// MarshalPoint serializes a vector Point to bytes.
func MarshalPoint(p *Point) []byte {
	return encode(func(w *musWriter) {
		w.int(pointFormatVersion)
		w.str(p.ID)
		w.int(len(p.Vector))
		for _, f := range p.Vector {
			w.float32(f)
		}
		w.str(p.Payload.Content)
		w.str(p.Payload.DocumentID)
		w.str(p.Payload.Filename)
		w.str(p.Payload.EntityID)
		w.str(string(p.Payload.EntityType))
		w.int(p.Payload.ChunkIndex)
		w.int(p.Payload.TotalChunks)
		w.str(p.Payload.BookmarkID)
		w.strs(p.Payload.GlossaryTermIDs)
		writeMetadata(w, p.Payload.Metadata)
	})
}

// UnmarshalPoint deserializes a vector Point from bytes.
func UnmarshalPoint(data []byte) (*Point, error) {
	r := &musReader{bs: data}
	if v := r.int(); r.err == nil && v != pointFormatVersion {
		return nil, fmt.Errorf("%w: point format version %d", ErrSerializationFailed, v)
	}
	p := &Point{ID: r.str()}
	n := r.length()
	if n > 0 {
		p.Vector = make([]float32, n)
		for i := range p.Vector {
			p.Vector[i] = r.float32()
		}
	}
	p.Payload.Content = r.str()
	p.Payload.DocumentID = r.str()
	p.Payload.Filename = r.str()
	p.Payload.EntityID = r.str()
	p.Payload.EntityType = core.EntityType(r.str())
	p.Payload.ChunkIndex = r.int()
	p.Payload.TotalChunks = r.int()
	p.Payload.BookmarkID = r.str()
	p.Payload.GlossaryTermIDs = r.strs()
	p.Payload.Metadata = readMetadata(r)
	if r.err != nil {
		return nil, fmt.Errorf("%w: point: %w", ErrSerializationFailed, r.err)
	}
	return p, nil
}

// MarshalInt serializes a single int, used for collection dimensions.
func MarshalInt(v int) []byte {
	return encode(func(w *musWriter) { w.int(v) })
}

// UnmarshalInt deserializes a single int.
func UnmarshalInt(data []byte) (int, error) {
	r := &musReader{bs: data}
	v := r.int()
	if r.err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	return v, nil
}

func writeOptions(w *musWriter, o core.ProcessingOptions) {
	w.str(o.Preset)
	w.int(o.ChunkSize)
	w.int(o.ChunkOverlap)
	w.bool(o.ExtractGlossary)
	w.bool(o.TrackDiscontinued)
	w.bool(o.StoreBookmarkIDs)
	w.str(string(o.GlossaryLinking))
	w.bool(o.CreateGraph)
	w.str(o.CollectionName)
}

func readOptions(r *musReader) core.ProcessingOptions {
	return core.ProcessingOptions{
		Preset:            r.str(),
		ChunkSize:         r.int(),
		ChunkOverlap:      r.int(),
		ExtractGlossary:   r.bool(),
		TrackDiscontinued: r.bool(),
		StoreBookmarkIDs:  r.bool(),
		GlossaryLinking:   core.LinkingStrategy(r.str()),
		CreateGraph:       r.bool(),
		CollectionName:    r.str(),
	}
}

// writeMetadata writes keys in sorted order so equal maps encode identically.
// Values of unsupported types are skipped.
func writeMetadata(w *musWriter, m core.Metadata) {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		switch v.(type) {
		case string, bool, int, float64, []string:
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	w.int(len(keys))
	for _, k := range keys {
		w.str(k)
		switch v := m[k].(type) {
		case string:
			w.int(kindString)
			w.str(v)
		case bool:
			w.int(kindBool)
			w.bool(v)
		case int:
			w.int(kindInt)
			w.int(v)
		case float64:
			w.int(kindFloat)
			w.float64(v)
		case []string:
			w.int(kindStrings)
			w.strs(v)
		}
	}
}

func readMetadata(r *musReader) core.Metadata {
	n := r.length()
	if n == 0 {
		return nil
	}
	m := make(core.Metadata, n)
	for i := 0; i < n && r.err == nil; i++ {
		k := r.str()
		switch kind := r.int(); kind {
		case kindString:
			m[k] = r.str()
		case kindBool:
			m[k] = r.bool()
		case kindInt:
			m[k] = r.int()
		case kindFloat:
			m[k] = r.float64()
		case kindStrings:
			m[k] = r.strs()
		default:
			if r.err == nil {
				r.err = fmt.Errorf("unknown metadata kind %d", kind)
			}
		}
	}
	return m
}

// encode runs fn once to size the buffer and once to fill it.
func encode(fn func(w *musWriter)) []byte {
	sizer := &musWriter{sizing: true}
	fn(sizer)
	w := &musWriter{bs: make([]byte, sizer.n)}
	fn(w)
	return w.bs[:w.n]
}

type musWriter struct {
	bs     []byte
	n      int
	sizing bool
}

func (w *musWriter) str(v string) {
	if w.sizing {
		w.n += ord.String.Size(v)
		return
	}
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) int(v int) {
	if w.sizing {
		w.n += varint.Int.Size(v)
		return
	}
	w.n += varint.Int.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) bool(v bool) {
	if w.sizing {
		w.n += ord.Bool.Size(v)
		return
	}
	w.n += ord.Bool.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) float64(v float64) {
	if w.sizing {
		w.n += raw.Float64.Size(v)
		return
	}
	w.n += raw.Float64.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) float32(v float32) {
	if w.sizing {
		w.n += raw.Float32.Size(v)
		return
	}
	w.n += raw.Float32.Marshal(v, w.bs[w.n:])
}

// time stores Unix microseconds; the zero time is stored as 0.
func (w *musWriter) time(t time.Time) {
	var v int64
	if !t.IsZero() {
		v = t.UnixMicro()
	}
	if w.sizing {
		w.n += varint.Int64.Size(v)
		return
	}
	w.n += varint.Int64.Marshal(v, w.bs[w.n:])
}

func (w *musWriter) strs(v []string) {
	w.int(len(v))
	for _, s := range v {
		w.str(s)
	}
}

// musReader keeps the first error and turns every later read into a no-op.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) ok() bool {
	if r.err != nil {
		return false
	}
	if r.n >= len(r.bs) {
		r.err = ErrTruncatedData
		return false
	}
	return true
}

func (r *musReader) str() string {
	if !r.ok() {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int() int {
	if !r.ok() {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) length() int {
	v := r.int()
	if v < 0 || v > len(r.bs) {
		if r.err == nil {
			r.err = fmt.Errorf("%w: length %d", ErrTruncatedData, v)
		}
		return 0
	}
	return v
}

func (r *musReader) bool() bool {
	if !r.ok() {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) float64() float64 {
	if !r.ok() {
		return 0
	}
	v, n, err := raw.Float64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) float32() float32 {
	if !r.ok() {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) time() time.Time {
	if !r.ok() {
		return time.Time{}
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	if err != nil || v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

func (r *musReader) strs() []string {
	n := r.length()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}
