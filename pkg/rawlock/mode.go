package rawlock

// KeyMode is the classic hierarchical lock mode applied to the key itself.
type KeyMode uint8

const (
	N KeyMode = iota
	IS
	IX
	S
	SIX
	X
)

func (m KeyMode) String() string {
	switch m {
	case N:
		return "N"
	case IS:
		return "IS"
	case IX:
		return "IX"
	case S:
		return "S"
	case SIX:
		return "SIX"
	case X:
		return "X"
	default:
		return "?"
	}
}

// GapMode is the simpler three-valued mode applied to the gap following a
// key, used to express next-key/range locking without a full second
// hierarchy. Simplification relative to the original system's full OKVL
// lattice (key mode x gap mode cross product); see DESIGN.md.
type GapMode uint8

const (
	GapN GapMode = iota
	GapS
	GapX
)

// Mode is a point in the ordered-key-value-lock lattice: an independent key
// mode and gap mode. Compatibility and join are each computed componentwise.
type Mode struct {
	Key KeyMode
	Gap GapMode
}

var ModeN = Mode{Key: N, Gap: GapN}

// keyCompat[requested][held] is true when a lock of mode requested may be
// granted concurrently with one already held in mode held.
var keyCompat = [6][6]bool{
	N:   {true, true, true, true, true, true},
	IS:  {true, true, true, true, true, false},
	IX:  {true, true, true, false, false, false},
	S:   {true, true, false, true, false, false},
	SIX: {true, true, false, false, false, false},
	X:   {true, false, false, false, false, false},
}

// keyJoin[a][b] is the strongest mode implied by holding both a and b at
// once, per the standard hierarchical-locking lattice (N < IS,IX < S,SIX < X
// with IS join IX = IX, IX join S = SIX).
var keyJoin = [6][6]KeyMode{
	N:   {N, IS, IX, S, SIX, X},
	IS:  {IS, IS, IX, S, SIX, X},
	IX:  {IX, IX, IX, SIX, SIX, X},
	S:   {S, S, SIX, S, SIX, X},
	SIX: {SIX, SIX, SIX, SIX, SIX, X},
	X:   {X, X, X, X, X, X},
}

var gapCompat = [3][3]bool{
	GapN: {true, true, true},
	GapS: {true, true, false},
	GapX: {true, false, false},
}

var gapJoin = [3][3]GapMode{
	GapN: {GapN, GapS, GapX},
	GapS: {GapS, GapS, GapX},
	GapX: {GapX, GapX, GapX},
}

// Compatible reports whether requesting mode m is grantable alongside a
// lock already held in mode held.
func (m Mode) Compatible(held Mode) bool {
	return keyCompat[m.Key][held.Key] && gapCompat[m.Gap][held.Gap]
}

// Join returns the weakest mode that subsumes both m and o, i.e. the mode a
// transaction effectively holds once it has acquired both.
func (m Mode) Join(o Mode) Mode {
	return Mode{Key: keyJoin[m.Key][o.Key], Gap: gapJoin[m.Gap][o.Gap]}
}

// IsN reports whether m grants no access at all (used as the "no-op" request
// some callers issue purely to register presence in a queue).
func (m Mode) IsN() bool {
	return m.Key == N && m.Gap == GapN
}

func (m Mode) String() string {
	return m.Key.String() + "/" + [...]string{"N", "S", "X"}[m.Gap]
}
