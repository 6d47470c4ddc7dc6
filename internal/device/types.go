package device

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a class of hardware device. The set is closed: every
// Kind the core knows about is listed here.
type Kind uint8

// Known device kinds.
const (
	KindSparkMax Kind = iota + 1
	KindNavX
)

var kindNames = map[Kind]string{
	KindSparkMax: "spark_max",
	KindNavX:     "navx",
}

// Kinds returns every known device kind in tag order.
func Kinds() []Kind {
	return []Kind{KindSparkMax, KindNavX}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind converts a kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText renders the kind name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Identity uniquely names a logical device: its kind plus a small numeric
// id (CAN id for motor controllers). It is a comparable value type and is
// used as a map key throughout the core.
type Identity struct {
	Kind Kind  `json:"kind"`
	ID   uint8 `json:"id"`
}

// String renders the identity as "kind/id", e.g. "spark_max/7".
func (i Identity) String() string {
	return i.Kind.String() + "/" + strconv.Itoa(int(i.ID))
}

// Compare orders identities by kind, then id.
func (i Identity) Compare(o Identity) int {
	if c := cmp.Compare(i.Kind, o.Kind); c != 0 {
		return c
	}
	return cmp.Compare(i.ID, o.ID)
}

// ParseIdentity parses the "kind/id" form produced by Identity.String.
func ParseIdentity(s string) (Identity, error) {
	kindPart, idPart, ok := strings.Cut(s, "/")
	if !ok {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return ParseIdentityParts(kindPart, idPart)
}

// ParseIdentityParts parses an identity given as separate kind and id
// strings, as they appear in URL paths and MQTT topics.
func ParseIdentityParts(kind, id string) (Identity, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return Identity{}, err
	}
	n, err := strconv.ParseUint(id, 10, 8)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: id %q", ErrInvalidIdentity, id)
	}
	return Identity{Kind: k, ID: uint8(n)}, nil
}

// Mode is the operating mode of the robot, reported by the host with
// every snapshot.
type Mode uint8

// Robot modes. The zero value is ModeDisabled.
const (
	ModeDisabled Mode = iota
	ModeTeleoperated
	ModeAutonomous
	ModeTest
)

var modeNames = map[Mode]string{
	ModeDisabled:     "disabled",
	ModeTeleoperated: "teleoperated",
	ModeAutonomous:   "autonomous",
	ModeTest:         "test",
}

// String returns the lowercase mode name.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// MarshalText renders the mode name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Enabled reports whether actuators are allowed to move in this mode.
func (m Mode) Enabled() bool {
	return m != ModeDisabled
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("device: unknown mode %q", s)
}

// Record is one device's telemetry in a snapshot. Payload is the raw wire
// layout for the device's kind.
type Record struct {
	Device  Identity
	Payload []byte
}

// Snapshot is the complete set of telemetry the host supplies in one tick.
// Ownership of Records and every Payload passes to the core on supply.
type Snapshot struct {
	Mode    Mode
	Records []Record
}
