// Package session implements the binkp/1.0 SessionMachine of FTS-1026:
// the originator (S0-S7) and answerer (R0-R5) handshake state machines,
// converging on a shared T0 transfer phase, terminating in DONE or ERROR.
package session

// State is one step of either handshake, or the shared terminal/transfer
// states, per FTS-1026. Encoded as a single enum rather than two separate
// originator/answerer types; Session.Run picks the handshake by Role and
// each per-phase run function records the State it is in.
type State int

const (
	// Originator states.
	S0ConnInit State = iota
	S1WaitConn
	S2SendPasswd
	S3WaitAddr
	S4AuthRemote
	S5IfSecure
	S6WaitOK
	S7Opts

	// Answerer states.
	R0WaitConn
	R1WaitAddr
	R2IsPasswd
	R3WaitPwd
	R4PwdAck
	R5Opts

	// Shared states.
	T0Transfer
	Done
	ErrorState
)

func (s State) String() string {
	switch s {
	case S0ConnInit:
		return "S0_CONN_INIT"
	case S1WaitConn:
		return "S1_WAIT_CONN"
	case S2SendPasswd:
		return "S2_SEND_PASSWD"
	case S3WaitAddr:
		return "S3_WAIT_ADDR"
	case S4AuthRemote:
		return "S4_AUTH_REMOTE"
	case S5IfSecure:
		return "S5_IF_SECURE"
	case S6WaitOK:
		return "S6_WAIT_OK"
	case S7Opts:
		return "S7_OPTS"
	case R0WaitConn:
		return "R0_WAIT_CONN"
	case R1WaitAddr:
		return "R1_WAIT_ADDR"
	case R2IsPasswd:
		return "R2_IS_PASSWD"
	case R3WaitPwd:
		return "R3_WAIT_PWD"
	case R4PwdAck:
		return "R4_PWD_ACK"
	case R5Opts:
		return "R5_OPTS"
	case T0Transfer:
		return "T0_TRANSFER"
	case Done:
		return "DONE"
	case ErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role identifies which side of the handshake a Session plays.
type Role int

const (
	RoleOriginator Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleAnswerer {
		return "answerer"
	}
	return "originator"
}
