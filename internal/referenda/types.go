// Package referenda decodes OpenGov referendum state read from the node.
//
// Nothing here keeps memory between runs: each run re-derives which referenda
// are confirming from a fresh storage snapshot.
package referenda

import "fmt"

const (
	Pallet      = "Referenda"
	StorageItem = "ReferendumInfoFor"

	// DefaultOriginsPallet is the runtime index of the governance Origins
	// pallet on Polkadot. Kusama uses 43.
	DefaultOriginsPallet uint8 = 22
)

// Deciding is the decision-period state of an ongoing referendum.
type Deciding struct {
	Since uint32 `json:"since"`
	// Confirming is the block at which confirmation ends, nil while not confirming.
	Confirming *uint32 `json:"confirming,omitempty"`
}

// Referendum is the subset of an ongoing referendum's status the watcher uses.
type Referendum struct {
	ID        uint32    `json:"id"`
	Track     uint16    `json:"track"`
	Origin    string    `json:"origin"`
	Submitted uint32    `json:"submitted"`
	Deciding  *Deciding `json:"deciding,omitempty"`
}

// ConfirmingProposal is a referendum in the deciding+confirming state.
type ConfirmingProposal struct {
	ID            uint32
	Track         uint16
	Origin        string
	DeadlineBlock uint32
}

func (p ConfirmingProposal) TrackName() string { return TrackName(p.Track) }

// Confirming narrows r to its confirming view.
func (r Referendum) Confirming() (ConfirmingProposal, bool) {
	if r.Deciding == nil || r.Deciding.Confirming == nil {
		return ConfirmingProposal{}, false
	}
	return ConfirmingProposal{
		ID:            r.ID,
		Track:         r.Track,
		Origin:        r.Origin,
		DeadlineBlock: *r.Deciding.Confirming,
	}, true
}

// Polkadot governance origins, in pallet variant order.
var polkadotOrigins = []string{
	"StakingAdmin",
	"Treasurer",
	"FellowshipAdmin",
	"GeneralAdmin",
	"AuctionAdmin",
	"LeaseAdmin",
	"ReferendumCanceller",
	"ReferendumKiller",
	"SmallTipper",
	"BigTipper",
	"SmallSpender",
	"MediumSpender",
	"BigSpender",
	"WhitelistedCaller",
	"WishForChange",
}

var polkadotTracks = map[uint16]string{
	0:  "root",
	1:  "whitelisted_caller",
	2:  "wish_for_change",
	10: "staking_admin",
	11: "treasurer",
	12: "lease_admin",
	13: "fellowship_admin",
	14: "general_admin",
	15: "auction_admin",
	20: "referendum_canceller",
	21: "referendum_killer",
	30: "small_tipper",
	31: "big_tipper",
	32: "small_spender",
	33: "medium_spender",
	34: "big_spender",
}

// TrackName maps a Polkadot track id to its name.
func TrackName(id uint16) string {
	if n, ok := polkadotTracks[id]; ok {
		return n
	}
	return fmt.Sprintf("track_%d", id)
}

func originName(variant uint8) string {
	if int(variant) < len(polkadotOrigins) {
		return polkadotOrigins[variant]
	}
	return fmt.Sprintf("Origin%d", variant)
}
