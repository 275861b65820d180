package grains

import (
	"encoding/binary"
	"fmt"

	"github.com/twmb/murmur3"
)

// GrainIdentity names a single grain: a type plus a key. Integer keys live
// in the two key words; string keys ride the extension with zeroed words.
// The hashes derived from it are index accelerants only -- the fields here
// stay the source of truth when two identities collide on a hash.
type GrainIdentity struct {
	GrainType    string
	KeyN0        int64
	KeyN1        int64
	KeyExtension string
}

func IntegerIdentity(grainType string, key int64) GrainIdentity {
	return GrainIdentity{
		GrainType: grainType,
		KeyN1:     key,
	}
}

func IntegerIdentityWithExtension(grainType string, key int64, extension string) GrainIdentity {
	return GrainIdentity{
		GrainType:    grainType,
		KeyN1:        key,
		KeyExtension: extension,
	}
}

func StringIdentity(grainType string, key string) GrainIdentity {
	return GrainIdentity{
		GrainType:    grainType,
		KeyExtension: key,
	}
}

// IdentityHash covers the composite key: both key words plus the extension.
func (g GrainIdentity) IdentityHash() int32 {
	buf := make([]byte, 16, 16+len(g.KeyExtension))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(g.KeyN0))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(g.KeyN1))
	buf = append(buf, g.KeyExtension...)
	return int32(murmur3.Sum32(buf))
}

func (g GrainIdentity) TypeHash() int32 {
	return int32(murmur3.Sum32([]byte(g.GrainType)))
}

func (g GrainIdentity) String() string {
	if g.KeyExtension != "" {
		return fmt.Sprintf("%s/%d.%d+%s", g.GrainType, g.KeyN0, g.KeyN1, g.KeyExtension)
	}
	return fmt.Sprintf("%s/%d.%d", g.GrainType, g.KeyN0, g.KeyN1)
}
