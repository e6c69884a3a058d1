package remote

import (
	"fmt"

	"github.com/tabletrack/tracker/internal/config"
	"github.com/tabletrack/tracker/pkg/core"
)

// itemNames maps fixed item marker IDs to their session display names.
// The assignments are part of the printed marker sheets, so they are
// keyed by absolute ID rather than range offset.
var itemNames = map[int]string{
	30: "Goblin",
	31: "Orc",
	32: "Skeleton",
	33: "Dragon",
	34: "Troll",
	35: "Wizard_Enemy",
	36: "Beast",
	37: "Demon",
	40: "Treasure_Chest",
	41: "Magic_Item",
	42: "Gold_Pile",
	43: "Potion",
	44: "Weapon",
	45: "Armor",
	46: "Scroll",
	47: "Key",
	50: "NPC_Merchant",
	51: "NPC_Guard",
	52: "NPC_Noble",
	53: "NPC_Innkeeper",
	54: "NPC_Priest",
	55: "Door",
	56: "Trap",
	57: "Fire_Hazard",
	58: "Altar",
	59: "Portal",
	60: "Vehicle",
	61: "Objective",
}

// TokenName derives the remote display name for a marker. Player markers
// number off from the bottom of their range ("Player_01" for the lowest
// ID); item markers use the fixed table with a generic fallback for IDs
// the sheets never assigned; everything else is Custom_<id>.
func TokenName(markers config.MarkerConfig, id int) string {
	switch markers.Categorize(id) {
	case core.CategoryPlayer:
		return fmt.Sprintf("Player_%02d", id-markers.PlayerRange.Low+1)
	case core.CategoryItem:
		if name, ok := itemNames[id]; ok {
			return name
		}
		return fmt.Sprintf("Item_%d", id)
	default:
		return fmt.Sprintf("Custom_%d", id)
	}
}
