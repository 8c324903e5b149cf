package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/elertan/bronzeman-unleashed/rtdb"
)


// identifies one ground item location
// encoded as `itemId_world_worldViewId_plane_worldX_worldY`
type GroundItemOwnedByKey struct {
	ItemId int
	World int
	WorldViewId int
	Plane int
	WorldX int
	WorldY int
}

func (self GroundItemOwnedByKey) String() string {
	return GroundItemOwnedByKeyCodec{}.Encode(self)
}


type GroundItemOwnedByKeyCodec struct{}

func (self GroundItemOwnedByKeyCodec) Encode(key GroundItemOwnedByKey) string {
	return fmt.Sprintf(
		"%d_%d_%d_%d_%d_%d",
		key.ItemId,
		key.World,
		key.WorldViewId,
		key.Plane,
		key.WorldX,
		key.WorldY,
	)
}

// also accepts the form wrapped in `{}`
func (self GroundItemOwnedByKeyCodec) Decode(encodedKey string) (GroundItemOwnedByKey, error) {
	k := encodedKey
	if strings.HasPrefix(k, "{") && strings.HasSuffix(k, "}") && 2 <= len(k) {
		k = k[1 : len(k)-1]
	}
	parts := strings.Split(k, "_")
	if len(parts) != 6 {
		return GroundItemOwnedByKey{}, fmt.Errorf("%w: ground item key %q", rtdb.ErrDecode, encodedKey)
	}
	values := make([]int, len(parts))
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return GroundItemOwnedByKey{}, fmt.Errorf("%w: ground item key %q", rtdb.ErrDecode, encodedKey)
		}
		values[i] = value
	}
	return GroundItemOwnedByKey{
		ItemId: values[0],
		World: values[1],
		WorldViewId: values[2],
		Plane: values[3],
		WorldX: values[4],
		WorldY: values[5],
	}, nil
}
