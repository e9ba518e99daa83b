package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size in bytes of the participant scoped identity.
const GuidPrefixLength = 12

// The participant scoped part of a Guid. Every entity created
// by the same participant shares the same prefix.
type GuidPrefix [GuidPrefixLength]byte

// Prefix used when the destination is not known.
var GuidPrefixUnknown = GuidPrefix{}

// Vendor identifier, written on the message header and used
// as the first two bytes of a generated GuidPrefix.
type VendorId [2]byte

// Vendor identifier used by this implementation.
var VendorIdDefault = VendorId{0x01, 0x2f}

// Generates a new GuidPrefix for the given vendor. The first two
// bytes are the vendor id, the remaining bytes are random.
func NewGuidPrefix(vendor VendorId) GuidPrefix {
	var prefix GuidPrefix
	id := uuid.New()
	prefix[0] = vendor[0]
	prefix[1] = vendor[1]
	copy(prefix[2:], id[:GuidPrefixLength-2])
	return prefix
}

// Parses the hexadecimal representation of a GuidPrefix.
func ParseGuidPrefix(value string) (GuidPrefix, error) {
	var prefix GuidPrefix
	data, err := hex.DecodeString(value)
	if err != nil {
		return prefix, fmt.Errorf("invalid guid prefix %q: %w", value, err)
	}
	if len(data) != GuidPrefixLength {
		return prefix, fmt.Errorf("invalid guid prefix %q: expected %d bytes, got %d", value, GuidPrefixLength, len(data))
	}
	copy(prefix[:], data)
	return prefix, nil
}

func (p GuidPrefix) IsUnknown() bool {
	return p == GuidPrefixUnknown
}

func (p GuidPrefix) String() string {
	return hex.EncodeToString(p[:])
}

// The kind tag of an EntityId.
type EntityKind byte

const (
	EntityKindUnknown              EntityKind = 0x00
	EntityKindUserWriterWithKey    EntityKind = 0x02
	EntityKindUserWriterNoKey      EntityKind = 0x03
	EntityKindUserReaderNoKey      EntityKind = 0x04
	EntityKindUserReaderWithKey    EntityKind = 0x07
	EntityKindBuiltinParticipant   EntityKind = 0xc1
	EntityKindBuiltinWriterWithKey EntityKind = 0xc2
	EntityKindBuiltinWriterNoKey   EntityKind = 0xc3
	EntityKindBuiltinReaderNoKey   EntityKind = 0xc4
	EntityKindBuiltinReaderWithKey EntityKind = 0xc7
)

// Identifies an entity inside a participant.
type EntityId struct {
	// Entity key, unique inside the participant.
	Key [3]byte

	// Entity kind.
	Kind EntityKind
}

var (
	EntityIdUnknown     = EntityId{}
	EntityIdParticipant = EntityId{Key: [3]byte{0x00, 0x00, 0x01}, Kind: EntityKindBuiltinParticipant}
)

// Creates a user entity id from the numeric key.
func NewEntityId(key uint32, kind EntityKind) EntityId {
	return EntityId{
		Key:  [3]byte{byte(key >> 16), byte(key >> 8), byte(key)},
		Kind: kind,
	}
}

// Parses a `key:kind` representation, both in hexadecimal.
func ParseEntityId(value string) (EntityId, error) {
	var key, kind uint32
	if _, err := fmt.Sscanf(value, "%x:%x", &key, &kind); err != nil {
		return EntityIdUnknown, fmt.Errorf("invalid entity id %q: %w", value, err)
	}
	if key > 0xffffff || kind > 0xff {
		return EntityIdUnknown, fmt.Errorf("invalid entity id %q: out of range", value)
	}
	return NewEntityId(key, EntityKind(kind)), nil
}

func (e EntityId) IsWriter() bool {
	switch e.Kind {
	case EntityKindUserWriterWithKey, EntityKindUserWriterNoKey,
		EntityKindBuiltinWriterWithKey, EntityKindBuiltinWriterNoKey:
		return true
	}
	return false
}

func (e EntityId) IsReader() bool {
	switch e.Kind {
	case EntityKindUserReaderWithKey, EntityKindUserReaderNoKey,
		EntityKindBuiltinReaderWithKey, EntityKindBuiltinReaderNoKey:
		return true
	}
	return false
}

func (e EntityId) IsUnknown() bool {
	return e == EntityIdUnknown
}

func (e EntityId) String() string {
	return fmt.Sprintf("%02x%02x%02x:%02x", e.Key[0], e.Key[1], e.Key[2], byte(e.Kind))
}

// Globally unique identity of a participant, writer or reader.
type Guid struct {
	Prefix   GuidPrefix
	EntityId EntityId
}

func NewGuid(prefix GuidPrefix, id EntityId) Guid {
	return Guid{Prefix: prefix, EntityId: id}
}

func (g Guid) String() string {
	return g.Prefix.String() + "/" + g.EntityId.String()
}
