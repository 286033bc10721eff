package deploy

import "golang.org/x/xerrors"

// State is a lifecycle stage of one deployment workflow.
type State int

const (
	NoDeployment State = iota
	Created
	BidsOpen
	Leased
	ManifestSent
	ServicesStarting
	ModelsDownloading
	Ready
	Closed
	Failed
)

var stateNames = map[State]string{
	NoDeployment:      "NoDeployment",
	Created:           "Created",
	BidsOpen:          "BidsOpen",
	Leased:            "Leased",
	ManifestSent:      "ManifestSent",
	ServicesStarting:  "ServicesStarting",
	ModelsDownloading: "ModelsDownloading",
	Ready:             "Ready",
	Closed:            "Closed",
	Failed:            "Failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// transitions is the forward edge set of the workflow. Closed and
// Failed are reachable from every state and are not listed per entry.
// NoDeployment additionally reaches Leased and Ready directly: that is
// the idempotent resume path, which short-circuits the machine when
// the persisted record still matches an active on-chain deployment.
var transitions = map[State][]State{
	NoDeployment:      {Created, Leased, Ready},
	Created:           {BidsOpen},
	BidsOpen:          {Leased},
	Leased:            {ManifestSent, Ready},
	ManifestSent:      {ServicesStarting},
	ServicesStarting:  {ModelsDownloading},
	ModelsDownloading: {Ready},
	Ready:             {},
	Closed:            {},
	Failed:            {},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	if next == Closed || next == Failed {
		return s != Closed
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// machine tracks the current workflow state and rejects illegal moves
// structurally instead of re-deriving legality from control flow.
type machine struct {
	state State
}

func newMachine() *machine {
	return &machine{state: NoDeployment}
}

func (m *machine) to(next State) error {
	if !m.state.CanTransition(next) {
		return xerrors.Errorf("illegal transition %s -> %s", m.state, next)
	}
	log.Debugf("workflow state: %s -> %s", m.state, next)
	m.state = next
	return nil
}
