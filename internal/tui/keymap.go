package tui

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyCtrlC       = "ctrl+c"
	KeyStart       = "s"
	KeySpace       = " "
	KeySpaceName   = "space"
	KeyMute        = "m"
	KeyCaptions    = "c"
	KeyAutoTTS     = "t"
	KeyCycleDevice = "i"
	KeyEnd         = "esc"
)
