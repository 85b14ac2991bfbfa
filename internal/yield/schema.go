package yield

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SchemaVersion is written into every persisted history document.
const SchemaVersion = 1

// Amount is an arbitrary-precision integer that always travels as a JSON
// string of decimal digits. JSON numbers are refused so nothing on the path
// can round a balance through float64.
type Amount struct {
	v *big.Int
}

func NewAmount(v *big.Int) Amount {
	return Amount{v: v}
}

func (a Amount) Int() *big.Int { return a.v }

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.v == nil {
		return nil, errors.New("amount is nil")
	}
	return json.Marshal(a.v.String())
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '"' {
		return fmt.Errorf("amount must be a decimal string, got %s", b)
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("amount %q is not a decimal integer", s)
	}
	a.v = v
	return nil
}

type snapshotRecord struct {
	Agent      string `json:"agent"`
	Vault      string `json:"vault"`
	Native     *Amount `json:"native,omitempty"`
	Stable     *Amount `json:"stable,omitempty"`
	Shares     Amount  `json:"shares"`
	Underlying Amount  `json:"underlying"`
	Timestamp  int64   `json:"timestamp"`
}

type historyDoc struct {
	Version   int              `json:"version"`
	Snapshots []snapshotRecord `json:"snapshots"`
}

func toRecord(s Snapshot) snapshotRecord {
	return snapshotRecord{
		Agent:      s.Agent.Hex(),
		Vault:      s.Vault.Hex(),
		Native:     optionalAmount(s.Native),
		Stable:     optionalAmount(s.Stable),
		Shares:     NewAmount(s.Shares),
		Underlying: NewAmount(s.Underlying),
		Timestamp:  s.Timestamp,
	}
}

func fromRecord(r snapshotRecord) (Snapshot, error) {
	if !common.IsHexAddress(r.Agent) || !common.IsHexAddress(r.Vault) {
		return Snapshot{}, fmt.Errorf("bad address in record agent=%q vault=%q", r.Agent, r.Vault)
	}
	s := Snapshot{
		Agent:      common.HexToAddress(r.Agent),
		Vault:      common.HexToAddress(r.Vault),
		Native:     optionalInt(r.Native),
		Stable:     optionalInt(r.Stable),
		Shares:     r.Shares.Int(),
		Underlying: r.Underlying.Int(),
		Timestamp:  r.Timestamp,
	}
	if err := s.validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func optionalAmount(v *big.Int) *Amount {
	if v == nil {
		return nil
	}
	a := NewAmount(v)
	return &a
}

func optionalInt(a *Amount) *big.Int {
	if a == nil {
		return nil
	}
	return a.Int()
}

func encodeRecords(history []Snapshot) []snapshotRecord {
	recs := make([]snapshotRecord, len(history))
	for i, s := range history {
		recs[i] = toRecord(s)
	}
	return recs
}

func decodeRecords(recs []snapshotRecord) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(recs))
	for i, r := range recs {
		s, err := fromRecord(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// EncodeHistory writes a versioned history document.
func EncodeHistory(history []Snapshot) ([]byte, error) {
	b, err := json.Marshal(historyDoc{Version: SchemaVersion, Snapshots: encodeRecords(history)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return b, nil
}

// DecodeHistory parses a document written by EncodeHistory. Any problem,
// including an unknown version, is reported as ErrSerialization.
func DecodeHistory(b []byte) ([]Snapshot, error) {
	var doc historyDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if doc.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSerialization, doc.Version)
	}
	history, err := decodeRecords(doc.Snapshots)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return history, nil
}
