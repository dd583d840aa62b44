package gameapi

// Action names a remote game RPC
type Action string

const (
	ActionLogin             Action = "login"
	ActionGetMapObjects     Action = "get_map_objects" // scan area
	ActionFortSearch        Action = "fort_search"     // spin a waypoint
	ActionFortDetails       Action = "fort_details"
	ActionEncounter         Action = "encounter"
	ActionDiskEncounter     Action = "disk_encounter"
	ActionCatchPokemon      Action = "catch_pokemon"
	ActionReleasePokemon    Action = "release_pokemon"
	ActionEvolvePokemon     Action = "evolve_pokemon"
	ActionClaimCodename     Action = "claim_codename"
	ActionSetPlayerTeam     Action = "set_player_team"
	ActionUseXPBoost        Action = "use_item_xp_boost"
	ActionUseEggIncubator   Action = "use_item_egg_incubator"
	ActionAddFortModifier   Action = "add_fort_modifier"
	ActionRecycleItem       Action = "recycle_inventory_item"
	ActionLevelUpRewards    Action = "level_up_rewards"
	ActionVerifyChallenge   Action = "verify_challenge"
	ActionGetPlayer         Action = "get_player"
	ActionGetInventory      Action = "get_inventory"
	ActionCheckChallenge    Action = "check_challenge"
	ActionDownloadSettings  Action = "download_settings"
	ActionGetHatchedEggs    Action = "get_hatched_eggs"
	ActionCheckAwardedBadge Action = "check_awarded_badges"
)

// AllActions lists every known action
var AllActions = []Action{
	ActionLogin,
	ActionGetMapObjects,
	ActionFortSearch,
	ActionFortDetails,
	ActionEncounter,
	ActionDiskEncounter,
	ActionCatchPokemon,
	ActionReleasePokemon,
	ActionEvolvePokemon,
	ActionClaimCodename,
	ActionSetPlayerTeam,
	ActionUseXPBoost,
	ActionUseEggIncubator,
	ActionAddFortModifier,
	ActionRecycleItem,
	ActionLevelUpRewards,
	ActionVerifyChallenge,
	ActionGetPlayer,
	ActionGetInventory,
	ActionCheckChallenge,
	ActionDownloadSettings,
	ActionGetHatchedEggs,
	ActionCheckAwardedBadge,
}

// String implements fmt.Stringer
func (a Action) String() string {
	return string(a)
}

// MovesPlayer reports whether the action is issued from a map position and
// therefore subject to travel throttling
func (a Action) MovesPlayer() bool {
	switch a {
	case ActionGetMapObjects, ActionFortSearch, ActionFortDetails,
		ActionEncounter, ActionDiskEncounter, ActionAddFortModifier:
		return true
	default:
		return false
	}
}

// IsScan reports whether the action is the map scan
func (a Action) IsScan() bool {
	return a == ActionGetMapObjects
}
