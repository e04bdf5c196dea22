package term

// Mode is the terminal mode bitset.
type Mode uint32

const (
	ModeWrap Mode = 1 << iota
	ModeInsert
	ModeAppKeypad
	ModeAltScreen
	ModeCRLF
	ModeMouseBtn
	ModeMouseMotion
	ModeReverse
	ModeKbdLock
	ModeHide
	ModeEcho
	ModeAppCursor
	ModeMouseSGR
	Mode8Bit
	ModeBlink
	ModeFocus
	ModeMouseX10
	ModeMouseMany
	ModeBrcktPaste
	ModePrint
	ModeUTF8
	ModeSixel
)

// mouseModes are mutually exclusive; setting one clears the others.
const mouseModes = ModeMouseBtn | ModeMouseMotion | ModeMouseX10 | ModeMouseMany

// Has reports whether every mode in mask is set.
func (m Mode) Has(mask Mode) bool { return m&mask == mask }

// Any reports whether at least one mode in mask is set.
func (m Mode) Any(mask Mode) bool { return m&mask != 0 }

// escape state flags
type escFlags uint8

const (
	escStart escFlags = 1 << iota
	escCSI
	escStr // OSC, PM, APC
	escAltCharset
	escStrEnd // a final string terminator was encountered
	escTest
	escUTF8
	escDCS
)

// Mod is the keyboard modifier bitset attached to mouse and key
// events.
type Mod uint8

const (
	ModShift Mod = 1 << iota
	ModCtrl
	ModAlt
	ModLogo
)

// Has reports whether every modifier in mask is held.
func (m Mod) Has(mask Mod) bool { return m&mask == mask }

// MouseEvent is the pointer event kind.
type MouseEvent int

const (
	MouseMotion MouseEvent = iota
	MousePress
	MouseRelease
)

// character set slots for the translation table
type charset int

const (
	csGraphic0 charset = iota
	csUSA
)
