// Package models defines the records produced by a mining run: repository
// metadata, conflicting merge scenarios and the conflict sources extracted
// from them.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// ErrInvalidRecord is returned by Validate when a record breaks an invariant.
var ErrInvalidRecord = errors.New("invalid record")

// MineStatus tracks how far mining of a repository has progressed.
// Stored as an integer: 0=READY, 1=MINING, 2=DONE.
type MineStatus int

const (
	StatusReady  MineStatus = 0
	StatusMining MineStatus = 1
	StatusDone   MineStatus = 2

	// StatusMalformed stands in for a stored value that is not an integer.
	StatusMalformed MineStatus = -1
)

// String returns the upper-case name of the status.
func (s MineStatus) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusMining:
		return "MINING"
	case StatusDone:
		return "DONE"
	default:
		return fmt.Sprintf("ILLEGAL(%d)", int(s))
	}
}

// IsLegal reports whether s is one of the known states.
func (s MineStatus) IsLegal() bool {
	return s == StatusReady || s == StatusMining || s == StatusDone
}

// UnmarshalJSON accepts any JSON value. Non-integers decode to
// StatusMalformed so the record can be treated as stale.
func (s *MineStatus) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f, ok := v.(float64)
	*s = statusFromFloat(f, ok)
	return nil
}

// UnmarshalBSONValue is the BSON counterpart of UnmarshalJSON.
func (s *MineStatus) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	v := bsoncore.Value{Type: t, Data: data}
	if i, ok := v.Int32OK(); ok {
		*s = MineStatus(i)
		return nil
	}
	if i, ok := v.Int64OK(); ok {
		*s = MineStatus(i)
		return nil
	}
	f, ok := v.DoubleOK()
	*s = statusFromFloat(f, ok)
	return nil
}

// Scan implements sql.Scanner.
func (s *MineStatus) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*s = MineStatus(v)
	case float64:
		*s = statusFromFloat(v, true)
	default:
		*s = StatusMalformed
	}
	return nil
}

func statusFromFloat(f float64, ok bool) MineStatus {
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return StatusMalformed
	}
	return MineStatus(f)
}

// RepoMeta is the per-repository mining record. Mined is the only field that
// changes after insertion.
type RepoMeta struct {
	ID      string     `json:"id" bson:"-"`
	Name    string     `json:"name" bson:"name"`
	Remotes []string   `json:"remotes" bson:"remotes"`
	Branch  string     `json:"branch" bson:"branch"`
	Mined   MineStatus `json:"mined" bson:"mined"`
}

// Validate checks the record before it reaches a store.
func (r *RepoMeta) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil repo meta", ErrInvalidRecord)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: repo meta without name", ErrInvalidRecord)
	}
	return nil
}
