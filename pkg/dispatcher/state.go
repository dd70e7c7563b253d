package dispatcher

// State is a step of the dispatch state machine:
//
//	Idle -> FetchSeqno -> Build -> Sign -> Serialize -> Submit -> Delivered
//
// Any step may end in Failed.
type State int

const (
	State_Idle State = iota
	State_FetchSeqno
	State_Build
	State_Sign
	State_Serialize
	State_Submit
	State_Delivered
	State_Failed
)

var stateNames = map[State]string{
	State_Idle:       "Idle",
	State_FetchSeqno: "FetchSeqno",
	State_Build:      "Build",
	State_Sign:       "Sign",
	State_Serialize:  "Serialize",
	State_Submit:     "Submit",
	State_Delivered:  "Delivered",
	State_Failed:     "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition follows
func (s State) Terminal() bool {
	return s == State_Delivered || s == State_Failed
}
